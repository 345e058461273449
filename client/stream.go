package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core/notification"
)

const eventNotification = "notification"

// Stream reads the pushes of an open event stream.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	retry  time.Duration
}

// Stream opens the push channel. It returns once the server has registered the subscription.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, notificationsPath+"/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "opening stream")
	}
	if res.StatusCode != http.StatusOK {
		defer res.Body.Close()
		return nil, readAPIError(res)
	}
	return &Stream{body: res.Body, reader: bufio.NewReader(res.Body)}, nil
}

// Retry is the reconnection delay last advertised by the server, 0 if none.
func (s *Stream) Retry() time.Duration {
	return s.retry
}

// Next blocks until the next pushed record. Comments and heartbeats are skipped.
// It returns io.EOF once the server closes the stream.
func (s *Stream) Next() (notification.View, error) {
	var event, data string
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return notification.View{}, io.EOF
			}
			return notification.View{}, errors.Wrap(err, "reading stream")
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" { // dispatch
			if event == eventNotification && data != "" {
				var v notification.View
				if err = json.Unmarshal([]byte(data), &v); err != nil {
					return notification.View{}, errors.Wrap(err, "decoding pushed notification")
				}
				return v, nil
			}
			event, data = "", ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			if data != "" {
				data += "\n"
			}
			data += value
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
				s.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

func (s *Stream) Close() error {
	return s.body.Close()
}
