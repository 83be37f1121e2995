package serializer

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Ocache-Stored-At"

// Snapshot is a response as it was stored, along with the time it was stored.
type Snapshot struct {
	Response *http.Response
	// The value of the clock at the time the response was stored.
	StoredAt time.Time
}

// BytesToSnapshot reads a snapshot previously written by SnapshotToBytes.
// The request is attached to the response, and decides e.g. whether a body is expected (HEAD).
func BytesToSnapshot(b []byte, req *http.Request) (Snapshot, error) {
	snap := Snapshot{}
	res, err := BytesToResponse(b, req)
	if err != nil {
		return snap, err
	}
	snap.Response = res
	if storedAt := res.Header.Get(storedAtHeaderName); storedAt != "" {
		storedAtInt, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return snap, err
		}
		snap.StoredAt = time.Unix(storedAtInt, 0)
	}
	// delete extra headers
	res.Header.Del(storedAtHeaderName)
	return snap, nil
}

// SnapshotToBytes returns the HTTP/1.1 representation of the stored response.
// The response body is left intact and can still be read after the call.
func SnapshotToBytes(snap Snapshot) ([]byte, error) {
	res := snap.Response
	if res.ProtoMajor == 0 {
		res.Proto, res.ProtoMajor, res.ProtoMinor = "HTTP/1.1", 1, 1
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(snap.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// BytesToResponse converts a byte slice to a http.Response.
func BytesToResponse(b []byte, req *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, err
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := BytesToResponse(bts, res.Request)
	if err != nil {
		return nil, err
	}
	res.Body = clonedRes.Body
	// return buffer bytes
	return bts, nil
}
