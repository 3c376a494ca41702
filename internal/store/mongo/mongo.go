package mongo

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/omgupta81/Smartbridge/internal/session"
	"github.com/omgupta81/Smartbridge/internal/store"
)

// MongoDB-backed session store. Field names match the records written by the
// original Node deployment, so both can read the same collection.
type Store struct {
	client   *mongo.Client
	sessions *mongo.Collection
}

type fileDoc struct {
	Name     string `bson:"name"`
	Language string `bson:"language"`
	Content  string `bson:"content"`
}

type chatDoc struct {
	From string `bson:"from"`
	Text string `bson:"text"`
	Time int64  `bson:"time"`
	CID  string `bson:"cid,omitempty"`
}

type sessionDoc struct {
	RoomID    string    `bson:"roomId"`
	Owner     string    `bson:"owner,omitempty"`
	Name      string    `bson:"name"`
	Files     []fileDoc `bson:"files"`
	Code      string    `bson:"code"`
	Chat      []chatDoc `bson:"chatHistory,omitempty"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func New(ctx context.Context, uri, dbName string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	sessions := client.Database(dbName).Collection("sessions")

	// Room ids are unique across all records
	_, err = sessions.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "roomId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, err
	}

	logrus.WithField("db", dbName).Info("Mongo store initialized")
	return &Store{client: client, sessions: sessions}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Create(ctx context.Context, rec *session.Record) error {
	now := time.Now()
	doc := sessionDoc{
		RoomID:    rec.RoomID,
		Owner:     rec.Owner,
		Name:      rec.Name,
		Files:     toFileDocs(rec.Files),
		Code:      rec.Code,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.sessions.InsertOne(ctx, doc)
	return err
}

func (s *Store) Get(ctx context.Context, roomID string) (*session.Record, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"roomId": roomID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &session.Record{
		RoomID:    doc.RoomID,
		Owner:     doc.Owner,
		Name:      doc.Name,
		Code:      doc.Code,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, f := range doc.Files {
		rec.Files = append(rec.Files, session.File(f))
	}
	for _, c := range doc.Chat {
		rec.Chat = append(rec.Chat, session.ChatEntry(c))
	}
	return rec, nil
}

func (s *Store) ReplaceFiles(ctx context.Context, roomID string, files []session.File) error {
	legacy := ""
	if len(files) > 0 {
		legacy = files[0].Content
	}
	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": bson.M{
			"files":     toFileDocs(files),
			"code":      legacy,
			"updatedAt": time.Now(),
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) SaveCode(ctx context.Context, roomID string, code string) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{"$set": bson.M{"code": code, "updatedAt": time.Now()}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *Store) AppendChat(ctx context.Context, roomID string, entry session.ChatEntry) error {
	_, err := s.sessions.UpdateOne(ctx,
		bson.M{"roomId": roomID},
		bson.M{
			"$push": bson.M{"chatHistory": chatDoc(entry)},
			"$set":  bson.M{"updatedAt": time.Now()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func toFileDocs(files []session.File) []fileDoc {
	docs := make([]fileDoc, 0, len(files))
	for _, f := range files {
		docs = append(docs, fileDoc(f))
	}
	return docs
}
