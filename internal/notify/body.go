package notify

import (
	"fmt"
	"html"
	"strings"
)

func joinRuleNames(names []string) string {
	if len(names) == 0 {
		return "match"
	}

	return strings.Join(names, ", ")
}

func upperLang(code string) string {
	if code == "" {
		return "EN"
	}

	return strings.ToUpper(code)
}

func alertTextBody(a Alert) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "News Alert: %s\n\n", joinRuleNames(a.RuleNames))
	fmt.Fprintf(&sb, "Channel: %s\n", a.ChannelName)

	if a.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", a.Title)
	}

	fmt.Fprintf(&sb, "\nContent:\n%s\n", a.Excerpt)

	if a.PostURL != "" {
		fmt.Fprintf(&sb, "\nView original post: %s\n", a.PostURL)
	}

	sb.WriteString("\n---\nThis is an automated alert.\n")

	return sb.String()
}

func alertHTMLBody(a Alert) string {
	var sb strings.Builder

	sb.WriteString("<html><body>\n")
	fmt.Fprintf(&sb, `<h2 style="color: #e74c3c;">News Alert: %s</h2>`+"\n", html.EscapeString(joinRuleNames(a.RuleNames)))
	fmt.Fprintf(&sb, "<p><strong>Channel:</strong> %s</p>\n", html.EscapeString(a.ChannelName))

	if a.Title != "" {
		fmt.Fprintf(&sb, "<p><strong>Title:</strong> %s</p>\n", html.EscapeString(a.Title))
	}

	excerpt := strings.ReplaceAll(html.EscapeString(a.Excerpt), "\n", "<br>")
	fmt.Fprintf(&sb, `<div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #007bff;">%s</div>`+"\n", excerpt)

	if a.PostURL != "" {
		fmt.Fprintf(&sb, `<p><a href="%s">View original post</a></p>`+"\n", html.EscapeString(a.PostURL))
	}

	sb.WriteString(`<hr><p style="color: #6c757d; font-size: 12px;">This is an automated alert.</p>` + "\n")
	sb.WriteString("</body></html>\n")

	return sb.String()
}

func digestTextBody(d Digest) string {
	var sb strings.Builder

	sb.WriteString("News Digest\n\n")
	fmt.Fprintf(&sb, "Summary (%s):\n%s\n\n", upperLang(d.Language), d.Summary)
	fmt.Fprintf(&sb, "This digest covers %d posts from %s to %s.\n",
		d.PostCount,
		d.WindowStart.Format("2006-01-02 15:04 MST"),
		d.WindowEnd.Format("2006-01-02 15:04 MST"))
	sb.WriteString("\n---\nThis is an automated digest.\n")

	return sb.String()
}

func digestHTMLBody(d Digest) string {
	var sb strings.Builder

	sb.WriteString("<html><body>\n")
	sb.WriteString(`<h2 style="color: #28a745;">News Digest</h2>` + "\n")

	summary := strings.ReplaceAll(html.EscapeString(d.Summary), "\n", "<br>")
	fmt.Fprintf(&sb, `<div style="background-color: #d4edda; padding: 15px; border-left: 4px solid #28a745;">`+
		"<h3>Summary (%s):</h3><div style=\"line-height: 1.6;\">%s</div></div>\n", upperLang(d.Language), summary)

	fmt.Fprintf(&sb, `<p style="color: #6c757d;">This digest covers <strong>%d</strong> posts from %s to %s.</p>`+"\n",
		d.PostCount,
		d.WindowStart.Format("2006-01-02 15:04 MST"),
		d.WindowEnd.Format("2006-01-02 15:04 MST"))

	sb.WriteString(`<hr><p style="color: #6c757d; font-size: 12px;">This is an automated digest.</p>` + "\n")
	sb.WriteString("</body></html>\n")

	return sb.String()
}
