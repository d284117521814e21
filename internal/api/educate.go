package api

import "net/http"

type Lesson struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Prevention  []string `json:"prevention"`
}

var lessons = map[string]Lesson{
	"phishing": {
		Title:       "About Phishing",
		Description: "Phishing is a type of social engineering attack where attackers trick users into revealing sensitive information by impersonating trusted entities.",
		Prevention: []string{
			"Check the URL carefully before entering credentials",
			"Look for SSL certification (https)",
			"Be wary of urgent requests for personal information",
			"Check for grammar and spelling errors",
		},
	},
	"xss": {
		Title:       "About Cross-Site Scripting (XSS)",
		Description: "XSS is a web security vulnerability that allows attackers to inject malicious scripts into webpages viewed by other users.",
		Prevention: []string{
			"Use content security policies",
			"Filter and validate all user inputs",
			"Encode output data",
			"Keep your browser and extensions updated",
		},
	},
	"csrf": {
		Title:       "About Cross-Site Request Forgery (CSRF)",
		Description: "CSRF is an attack that forces users to execute unwanted actions on websites where they are authenticated.",
		Prevention: []string{
			"Use anti-CSRF tokens",
			"Check the referer header",
			"Log out of websites when not in use",
			"Use SameSite cookies",
		},
	},
}

func (s *Server) handleEducate(w http.ResponseWriter, r *http.Request) {
	lesson, ok := lessons[r.PathValue("topic")]
	if !ok {
		writeError(w, http.StatusNotFound, "Education content not found")
		return
	}
	writeJSON(w, http.StatusOK, lesson)
}
