package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Offline-Cache-Stored-At"

// StoredResponse is a snapshot of a response as kept in a cache generation:
// status, headers and the complete body.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock when the response was written to the cache.
	StoredAt time.Time
}

// ResponseToBytes returns the HTTP/1.1 wire representation of the response,
// including the time it was stored.
// The response body is consumed and replaced with an equivalent reader,
// so the caller can still send the live response to the client afterwards.
func ResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	body, err := readBody(res)
	if err != nil {
		return nil, err
	}

	snapshot := &http.Response{
		Status:        res.Status,
		StatusCode:    res.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        res.Header.Clone(),
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Request:       res.Request,
	}
	if snapshot.Header == nil {
		snapshot.Header = make(http.Header)
	}
	// the length is known now, any transfer coding of the original is irrelevant
	snapshot.Header.Del("Transfer-Encoding")
	snapshot.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))

	buf := &bytes.Buffer{}
	if err := snapshot.Write(buf); err != nil {
		return nil, fmt.Errorf("could not write response snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// BytesToResponse parses a snapshot created by ResponseToBytes.
// The request, if not nil, is attached to the returned response.
func BytesToResponse(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, fmt.Errorf("could not read response snapshot: %w", err)
	}
	sRes.Response = res
	if storedAt := res.Header.Get(storedAtHeaderName); storedAt != "" {
		storedAtInt, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return sRes, fmt.Errorf("invalid stored-at time %q: %w", storedAt, err)
		}
		sRes.StoredAt = time.Unix(storedAtInt, 0)
	}
	// internal header, never sent to clients
	res.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// readBody reads the complete body of the response and sets the body back
// to a reader over the same bytes.
func readBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	return body, nil
}
