package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
)

// Subscriber connects to a Hub's /ws endpoint and yields decoded
// Events as they're pushed, one yamux stream per subscriber.
// Adapted from the teacher's bridge.Client dial/session setup, with
// the gRPC stream replaced by a single yamux stream reading
// newline-delimited JSON.
type Subscriber struct {
	session *yamux.Session
	stream  *yamux.Stream
	scanner *bufio.Scanner
}

// Dial connects to a dashboard Hub at wsURL (e.g. "ws://127.0.0.1:4598/ws").
func Dial(ctx context.Context, wsURL string) (*Subscriber, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dashboard websocket dial: %w", err)
	}

	session, err := yamux.Client(newWSConn(conn), nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dashboard yamux client: %w", err)
	}

	stream, err := session.Open()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("dashboard yamux stream open: %w", err)
	}

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	return &Subscriber{session: session, stream: stream, scanner: scanner}, nil
}

// Next blocks for the next pushed Event, returning io.EOF-wrapping
// errors once the underlying session closes.
func (s *Subscriber) Next() (Event, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("dashboard stream closed: %w", io.EOF)
	}

	var e Event
	if err := json.Unmarshal(s.scanner.Bytes(), &e); err != nil {
		return Event{}, fmt.Errorf("decoding dashboard event: %w", err)
	}
	return e, nil
}

// Close tears down the stream and its underlying session.
func (s *Subscriber) Close() error {
	s.stream.Close()
	return s.session.Close()
}
