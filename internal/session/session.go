package session

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultFileName is used when a room has to be seeded and the session's
// declared name does not carry a recognized extension.
const DefaultFileName = "main.js"

// DefaultLanguage is the language assumed when an extension is unknown.
const DefaultLanguage = "javascript"

// One named file inside a session
type File struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// One chat history entry
type ChatEntry struct {
	From string `json:"from"`
	Text string `json:"text"`
	Time int64  `json:"time"`
	CID  string `json:"cid,omitempty"`
}

// The persisted record for a room
type Record struct {
	RoomID    string      `json:"roomId"`
	Owner     string      `json:"owner,omitempty"`
	Name      string      `json:"name"`
	Files     []File      `json:"files"`
	Code      string      `json:"code"` // legacy single-file field
	Chat      []ChatEntry `json:"chatHistory,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Maps a file extension to an editor language tag
func LanguageForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".py":
		return "python"
	case ".java":
		return "java"
	case ".cpp", ".cc", ".cxx":
		return "cpp"
	case ".html":
		return "html"
	case ".css":
		return "css"
	default:
		return DefaultLanguage
	}
}

// Derives a language tag from a file name
func LanguageForName(name string) string {
	return LanguageForExt(filepath.Ext(name))
}

var starterTemplates = map[string]string{
	".js":   "// ${FILENAME}\nconsole.log(\"Hello from JavaScript\");\n",
	".py":   "# ${FILENAME}\nprint(\"Hello from Python\")\n",
	".java": "// ${FILENAME}\npublic class Main {\n  public static void main(String[] args) {\n    System.out.println(\"Hello, Java\");\n  }\n}\n",
	".cpp":  "// ${FILENAME}\n#include <iostream>\nint main(){ std::cout << \"Hello C++\\n\"; return 0; }\n",
	".html": "<!-- ${FILENAME} -->\n<!doctype html>\n<html>\n  <head><meta charset=\"utf-8\"><title>${FILENAME}</title></head>\n  <body>\n    <h1>Hello HTML</h1>\n  </body>\n</html>\n",
	".css":  "/* ${FILENAME} */\nbody { font-family: Inter, system-ui, sans-serif; }\n",
	".ts":   "// ${FILENAME}\nconsole.log(\"Hello TypeScript\");\n",
}

// Returns the starter content for a new file, with the file name substituted
// into the template. Unknown extensions get an empty body.
func StarterContent(name string) string {
	tpl, ok := starterTemplates[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return ""
	}
	return strings.ReplaceAll(tpl, "${FILENAME}", name)
}

// Reports whether the extension has a starter template (and therefore a
// recognized language mapping beyond the default).
func KnownExt(ext string) bool {
	_, ok := starterTemplates[strings.ToLower(ext)]
	return ok
}

// StarterFile builds the single seed file for a brand-new room.
func StarterFile() File {
	return File{
		Name:     DefaultFileName,
		Language: DefaultLanguage,
		Content:  StarterContent(DefaultFileName),
	}
}

// LegacyFile materializes the old single-code field as one file. The session's
// declared name is used when it ends in a recognized extension, otherwise the
// canonical default name applies.
func LegacyFile(sessionName, code string) File {
	name := DefaultFileName
	if ext := filepath.Ext(sessionName); ext != "" && KnownExt(ext) {
		name = sessionName
	}
	return File{
		Name:     name,
		Language: LanguageForName(name),
		Content:  code,
	}
}
