package rets

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Well-known reply codes. These stay inside this package.
const (
	replyOK          = 0
	replyNoRecords   = 20201
	replyNoObject    = 20403
	replyAuthExpired = 20037
)

// HTTPClient is the live Client implementation. Login establishes a session
// cookie (carried by the injected client's jar) and yields the capability
// URLs used for Search and GetObject.
type HTTPClient struct {
	loginURL string
	username string
	password string
	client   *http.Client

	mu   sync.Mutex
	caps map[string]string
}

func NewHTTPClient(loginURL, username, password string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{
		loginURL: loginURL,
		username: username,
		password: password,
		client:   client,
	}
}

// Login authenticates and parses the capability list. Safe to call again
// after a session loss.
func (c *HTTPClient) Login(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.loginURL, nil)
	if err != nil {
		return err
	}
	c.prepare(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Code: resp.StatusCode, Message: "login rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login status: %d", resp.StatusCode)
	}

	caps, replyCode, replyText, err := parseLoginResponse(resp.Body)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if replyCode != replyOK {
		return &AuthError{Code: replyCode, Message: replyText}
	}

	base, err := url.Parse(c.loginURL)
	if err != nil {
		return err
	}
	resolved := make(map[string]string, len(caps))
	for name, raw := range caps {
		ref, err := url.Parse(raw)
		if err != nil {
			continue
		}
		resolved[name] = base.ResolveReference(ref).String()
	}

	c.mu.Lock()
	c.caps = resolved
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) capability(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	caps := c.caps
	c.mu.Unlock()

	if caps == nil {
		if err := c.Login(ctx); err != nil {
			return "", err
		}
		c.mu.Lock()
		caps = c.caps
		c.mu.Unlock()
	}

	u, ok := caps[name]
	if !ok {
		return "", fmt.Errorf("rets: server does not advertise %s", name)
	}
	return u, nil
}

func (c *HTTPClient) prepare(req *http.Request) {
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("RETS-Version", "RETS/1.7.2")
	req.Header.Set("User-Agent", "retsync/1.0")
	req.Header.Set("Accept", "*/*")
}

func (c *HTTPClient) Count(ctx context.Context, p SearchParams) (CountResult, error) {
	body, err := c.search(ctx, p, true)
	if err != nil {
		return CountResult{}, err
	}
	defer body.Close()

	var result CountResult
	err = decodeCompact(body, &result, nil)
	return result, err
}

func (c *HTTPClient) Search(ctx context.Context, p SearchParams, fn func(Record) error) error {
	body, err := c.search(ctx, p, false)
	if err != nil {
		return err
	}
	defer body.Close()

	return decodeCompact(body, nil, fn)
}

func (c *HTTPClient) search(ctx context.Context, p SearchParams, countOnly bool) (io.ReadCloser, error) {
	searchURL, err := c.capability(ctx, "Search")
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("SearchType", p.Resource)
	q.Set("Class", p.Class)
	q.Set("QueryType", "DMQL2")
	q.Set("Query", p.Query)
	q.Set("Format", "COMPACT-DECODED")
	q.Set("StandardNames", "0")
	if countOnly {
		q.Set("Count", "2")
	} else {
		q.Set("Count", "0")
		q.Set("Limit", strconv.Itoa(p.Limit))
		q.Set("Offset", strconv.Itoa(p.Offset))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.prepare(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, &AuthError{Code: resp.StatusCode, Message: "session rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("search status: %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *HTTPClient) GetObjects(ctx context.Context, resource, id string, fn func(Object) error) error {
	objectURL, err := c.capability(ctx, "GetObject")
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("Resource", resource)
	q.Set("Type", "Photo")
	q.Set("ID", id+":*")
	q.Set("Location", "0")

	req, err := http.NewRequestWithContext(ctx, "GET", objectURL+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	c.prepare(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("getobject: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthError{Code: resp.StatusCode, Message: "session rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("getobject status: %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("getobject content type: %w", err)
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return readObjectParts(multipart.NewReader(resp.Body, params["boundary"]), fn)
	case mediaType == "text/xml":
		// An XML body here is a reply wrapper; "no object found" means
		// the owner simply has no images.
		code, text, err := parseReplyCode(resp.Body)
		if err != nil {
			return err
		}
		switch code {
		case replyOK, replyNoObject:
			return nil
		case replyAuthExpired:
			return &AuthError{Code: code, Message: text}
		}
		return fmt.Errorf("getobject reply %d: %s", code, text)
	default:
		// Single object, sequence number in the Object-ID header.
		seq, _ := strconv.Atoi(resp.Header.Get("Object-ID"))
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return fn(Object{ID: seq, ContentType: mediaType, Data: data})
	}
}

func readObjectParts(mr *multipart.Reader, fn func(Object) error) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getobject part: %w", err)
		}

		seq, _ := strconv.Atoi(part.Header.Get("Object-ID"))
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return fmt.Errorf("getobject part body: %w", err)
		}

		obj := Object{
			ID:          seq,
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}
		if err := fn(obj); err != nil {
			return err
		}
	}
}

// decodeCompact walks a COMPACT-DECODED search response. When count is
// non-nil only the reply code and COUNT element matter; otherwise each DATA
// row is zipped against COLUMNS and handed to fn.
func decodeCompact(r io.Reader, count *CountResult, fn func(Record) error) error {
	dec := xml.NewDecoder(r)

	delim := "\t"
	var columns []string
	replySeen := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse response: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "RETS":
			replySeen = true
			code := attrInt(start, "ReplyCode")
			switch code {
			case replyOK:
				if count != nil {
					count.Found = true
				}
			case replyNoRecords:
				if count != nil {
					*count = CountResult{Found: false}
				}
				return nil
			case replyAuthExpired:
				return &AuthError{Code: code, Message: attr(start, "ReplyText")}
			default:
				return fmt.Errorf("search reply %d: %s", code, attr(start, "ReplyText"))
			}
		case "COUNT":
			if count != nil {
				count.Total = attrInt(start, "Records")
			}
		case "DELIMITER":
			if v := attr(start, "value"); v != "" {
				if n, err := strconv.ParseInt(v, 16, 32); err == nil && n > 0 {
					delim = string(rune(n))
				}
			}
		case "COLUMNS":
			text, err := elementText(dec, &start)
			if err != nil {
				return err
			}
			columns = splitCompactRow(text, delim)
		case "DATA":
			if fn == nil {
				continue
			}
			text, err := elementText(dec, &start)
			if err != nil {
				return err
			}
			values := splitCompactRow(text, delim)
			if len(values) == 0 {
				continue
			}
			if len(values) != len(columns) {
				return fmt.Errorf("%w: %d values for %d columns", ErrEmptyRow, len(values), len(columns))
			}
			rec := make(Record, len(columns))
			for i, col := range columns {
				rec[col] = values[i]
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
	}

	if !replySeen {
		return fmt.Errorf("rets: response missing RETS element")
	}
	return nil
}

func elementText(dec *xml.Decoder, start *xml.StartElement) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return sb.String(), nil
			}
		}
	}
}

// splitCompactRow splits a delimiter-framed row. COMPACT rows carry a
// leading and trailing delimiter, so the outer empty cells are dropped while
// interior empties are kept.
func splitCompactRow(row, delim string) []string {
	row = strings.Trim(row, "\r\n")
	if strings.TrimSpace(row) == "" {
		return nil
	}
	parts := strings.Split(row, delim)
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func attr(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrInt(start xml.StartElement, name string) int {
	n, _ := strconv.Atoi(attr(start, name))
	return n
}

// parseReplyCode reads just the reply code and text from a RETS wrapper.
func parseReplyCode(r io.Reader) (int, string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return 0, "", fmt.Errorf("rets: response missing RETS element")
		}
		if err != nil {
			return 0, "", fmt.Errorf("parse reply: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "RETS" {
			return attrInt(start, "ReplyCode"), attr(start, "ReplyText"), nil
		}
	}
}

// parseLoginResponse extracts the reply code and the key=value capability
// list from the RETS-RESPONSE body.
func parseLoginResponse(r io.Reader) (map[string]string, int, string, error) {
	dec := xml.NewDecoder(r)

	caps := make(map[string]string)
	code := -1
	text := ""

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, "", fmt.Errorf("parse login: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "RETS":
			code = attrInt(start, "ReplyCode")
			text = attr(start, "ReplyText")
		case "RETS-RESPONSE":
			body, err := elementText(dec, &start)
			if err != nil {
				return nil, 0, "", err
			}
			scanner := bufio.NewScanner(strings.NewReader(body))
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				key, value, ok := strings.Cut(line, "=")
				if !ok {
					continue
				}
				caps[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
		}
	}

	if code == -1 {
		return nil, 0, "", fmt.Errorf("rets: login response missing RETS element")
	}
	return caps, code, text, nil
}
