package loom

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// errMalformedLine signals a request line or header line that cannot be
// parsed; the caller closes the channel.
var errMalformedLine = errors.New("loom: malformed line")

// errHeaderTooLarge signals a header block that grew past the configured
// cap without completing; the connection is closed.
var errHeaderTooLarge = errors.New("loom: header block exceeds cap")

// splitCRLFLine finds the first CRLF-terminated line in buf[pos:] and
// returns the line (without the trailing CRLF) and the index just past the
// CRLF. ok is false when no complete line is present yet.
func splitCRLFLine(buf []byte, pos int) (line []byte, next int, ok bool) {
	idx := bytes.Index(buf[pos:], []byte("\r\n"))
	if idx < 0 {
		return nil, pos, false
	}
	return buf[pos : pos+idx], pos + idx + 2, true
}

// parseRequestLine decodes "METHOD SP request-uri SP HTTP-version".
func parseRequestLine(line []byte) (method, uri, version string, err error) {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return "", "", "", errMalformedLine
	}
	method, uri, version = parts[0], parts[1], parts[2]
	if method == "" || uri == "" || !strings.HasPrefix(version, "HTTP/") {
		return "", "", "", errMalformedLine
	}
	return method, uri, version, nil
}

// parseHeaderLine decodes a single "Name: Value" header line, validating
// the field name and value via httpguts the same way net/http does.
func parseHeaderLine(line []byte) (Header, error) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return Header{}, errMalformedLine
	}
	name := strings.TrimSpace(string(line[:idx]))
	value := strings.TrimSpace(string(line[idx+1:]))
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return Header{}, errMalformedLine
	}
	return Header{Name: name, Value: value}, nil
}

// isUpgradeRequest reports whether the parsed headers request a WebSocket
// upgrade.
func isUpgradeRequest(headers []Header) bool {
	req := &HttpRequest{headers: headers}
	return strings.EqualFold(req.Header("Upgrade"), "websocket") &&
		headerContainsToken(req.Header("Connection"), "upgrade") &&
		req.Header("Sec-WebSocket-Key") != ""
}

func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// contentLength extracts and validates the Content-Length header, if any.
// A missing header means 0 bytes of body. Chunked transfer encoding on
// ingress is not supported.
func contentLength(req *HttpRequest) (int64, error) {
	v := req.Header("Content-Length")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, errMalformedLine
	}
	return n, nil
}

// buildResponsePreamble renders an HTTP/1.1 response preamble; callers
// append the body bytes themselves.
func buildResponsePreamble(status int, reason, contentType string, bodyLen int, extra ...Header) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(status))
	b.WriteByte(' ')
	b.WriteString(reason)
	b.WriteString("\r\n")
	if contentType != "" {
		b.WriteString("Content-Type: ")
		b.WriteString(contentType)
		b.WriteString("\r\n")
	}
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(bodyLen))
	b.WriteString("\r\n")
	for _, h := range extra {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// wsAcceptKey computes Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key per RFC 6455 §1.3: SHA-1 of the key concatenated with
// the WebSocket GUID, base64-encoded.
func wsAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// buildUpgradeResponse renders the 101 Switching Protocols response for a
// successful WebSocket handshake.
func buildUpgradeResponse(acceptKey string) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(acceptKey)
	b.WriteString("\r\n\r\n")
	return b.Bytes()
}
