package session

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractToken pulls the single-use continuation token out of a served
// page. The token is consumed by the next stateful POST; posting a stale
// one desynchronizes the server-side form state.
func ExtractToken(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	value, _ := doc.Find(`input[name="javax.faces.ViewState"]`).First().Attr("value")
	return value
}

// LoginForm holds the scraped identifiers of the credential form. The
// origin regenerates element ids per view, so the form must be re-scraped
// from fresh HTML before every login attempt.
type LoginForm struct {
	FormBase     string
	LoginField   string
	SubmitButton string
}

// scrapeLoginForm locates the credential form ids in the landing page.
// Button discovery falls through three methods because the origin swaps
// markup between deployments.
func scrapeLoginForm(html string) LoginForm {
	var form LoginForm
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return form
	}

	if login := doc.Find(`input[type="email"]`).First(); login.Length() > 0 {
		name, _ := login.Attr("name")
		if name == "" {
			name, _ = login.Attr("id")
		}
		form.LoginField = name
		if idx := strings.LastIndex(name, ":"); idx > 0 {
			form.FormBase = name[:idx]
		}
	}

	doc.Find(`input[type="submit"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		value, _ := s.Attr("value")
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "войти", "login", "кіру":
			form.SubmitButton = attrNameOrID(s)
			return false
		}
		return true
	})
	if form.SubmitButton == "" {
		if s := doc.Find(`.button-primary[type="submit"]`).First(); s.Length() > 0 {
			form.SubmitButton = attrNameOrID(s)
		}
	}
	if form.SubmitButton == "" {
		doc.Find(`[onclick*="RichFaces.ajax"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			id := attrNameOrID(s)
			typ, _ := s.Attr("type")
			if typ == "submit" && strings.Contains(id, "auth") {
				form.SubmitButton = id
				return false
			}
			return true
		})
	}
	return form
}

func attrNameOrID(s *goquery.Selection) string {
	if name, ok := s.Attr("name"); ok && name != "" {
		return name
	}
	id, _ := s.Attr("id")
	return id
}
