package channel

import (
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/helpdesk/internal/domain"
)

// ErrInvalidAddress is returned when a sender address does not look like an
// email address.
var ErrInvalidAddress = errors.New("invalid email address")

var (
	scriptRe  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`\s+`)
	addrRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	angleRe   = regexp.MustCompile(`<([^>]+)>`)
	displayRe = regexp.MustCompile(`^(.+?)\s*<[^>]+>$`)
)

// StripHTML removes tags, script and style blocks, decodes entities and
// collapses whitespace.
func StripHTML(s string) string {
	s = scriptRe.ReplaceAllString(s, "")
	s = styleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// ValidAddress reports whether addr is a bare email address.
func ValidAddress(addr string) bool {
	return addrRe.MatchString(addr)
}

// SplitAddress separates `Name <addr>` into its display name and address.
// A bare address has an empty name.
func SplitAddress(from string) (name, addr string) {
	from = strings.TrimSpace(from)
	if a, err := mail.ParseAddress(from); err == nil {
		return a.Name, a.Address
	}
	addr = from
	if m := angleRe.FindStringSubmatch(from); m != nil {
		addr = strings.TrimSpace(m[1])
	}
	if m := displayRe.FindStringSubmatch(from); m != nil {
		name = strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	return name, addr
}

// Inbound is a raw message as a transport or API caller hands it over.
type Inbound struct {
	ID         string
	ChannelID  string
	ThreadID   string
	From       string // may be "Name <addr>"
	FromName   string // wins over a name parsed from From
	Subject    string
	Body       string // plain text or HTML
	ReceivedAt time.Time
}

// ParseInbound validates the sender and cleans subject and body into a
// domain.Message.
func ParseInbound(in Inbound) (domain.Message, error) {
	name, addr := SplitAddress(in.From)
	addr = strings.ToLower(addr)
	if !ValidAddress(addr) {
		return domain.Message{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if in.FromName != "" {
		name = in.FromName
	}

	body := strings.TrimSpace(in.Body)
	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		body = StripHTML(body)
	}
	subject := strings.TrimSpace(in.Subject)
	if strings.Contains(subject, "<") {
		subject = StripHTML(subject)
	}

	return domain.Message{
		ID:         in.ID,
		ChannelID:  in.ChannelID,
		ThreadID:   in.ThreadID,
		From:       addr,
		FromName:   name,
		Subject:    subject,
		Body:       body,
		ReceivedAt: in.ReceivedAt,
	}, nil
}

// ReadBody extracts the text of a MIME message, preferring text/plain over
// text/html in multipart bodies.
func ReadBody(header mail.Header, r io.Reader) (string, error) {
	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		b, err := io.ReadAll(decodeTransfer(header.Get("Content-Transfer-Encoding"), r))
		return string(b), err
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		var htmlPart string
		mr := multipart.NewReader(r, params["boundary"])
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", err
			}
			partType, partParams, _ := mime.ParseMediaType(p.Header.Get("Content-Type"))
			switch {
			case strings.HasPrefix(partType, "multipart/"):
				nested := mail.Header{"Content-Type": {mime.FormatMediaType(partType, partParams)}}
				text, err := ReadBody(nested, p)
				if err == nil && text != "" {
					return text, nil
				}
			case partType == "text/plain":
				b, err := io.ReadAll(decodeTransfer(p.Header.Get("Content-Transfer-Encoding"), p))
				if err == nil {
					return string(b), nil
				}
			case partType == "text/html" && htmlPart == "":
				b, err := io.ReadAll(decodeTransfer(p.Header.Get("Content-Transfer-Encoding"), p))
				if err == nil {
					htmlPart = string(b)
				}
			}
		}
		if htmlPart != "" {
			return htmlPart, nil
		}
		return "", errors.New("no text part")
	}

	if strings.HasPrefix(mediaType, "text/") {
		b, err := io.ReadAll(decodeTransfer(header.Get("Content-Transfer-Encoding"), r))
		return string(b), err
	}
	return "", fmt.Errorf("unsupported content type: %s", mediaType)
}

// multipart.Reader already decodes quoted-printable parts and drops the
// header, so this only fires for single-part bodies.
func decodeTransfer(encoding string, r io.Reader) io.Reader {
	if strings.EqualFold(strings.TrimSpace(encoding), "quoted-printable") {
		return quotedprintable.NewReader(r)
	}
	return r
}

// ReplySubject prefixes "Re: " once.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ComposeReply renders an RFC 5322 plain-text reply threaded to the original
// message when its id is known. An empty from leaves the header to the
// sending service.
func ComposeReply(from string, reply domain.Reply, now time.Time) []byte {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", from)
	}
	fmt.Fprintf(&b, "To: %s\r\n", reply.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", ReplySubject(reply.Subject)))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	if reply.InReplyTo != "" {
		id := reply.InReplyTo
		if !strings.HasPrefix(id, "<") {
			id = "<" + id + ">"
		}
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", id)
		fmt.Fprintf(&b, "References: %s\r\n", id)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(reply.Body, "\n", "\r\n"))
	return []byte(b.String())
}
