// Package mpv drives a local mpv player through its JSON IPC socket.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/avolkov/lockstep/internal/core"
)

type request struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

type response struct {
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	RequestID int64           `json:"request_id"`
	Event     string          `json:"event"`
}

// Engine is a core.MediaEngine over one mpv IPC connection. Commands
// are serialized; mpv answers in order for a single client.
type Engine struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	nextID int64
}

func Dial(socketPath string) (*Engine, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial mpv socket %s: %w", socketPath, err)
	}
	return &Engine{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (e *Engine) roundTrip(ctx context.Context, cmd ...interface{}) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	req := request{Command: cmd, RequestID: e.nextID}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = e.conn.SetDeadline(deadline)
	} else {
		_ = e.conn.SetDeadline(time.Now().Add(5 * time.Second))
	}

	if _, err := e.conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write mpv command: %w", err)
	}

	// mpv interleaves asynchronous events with replies; skip events
	// until our request id comes back.
	for {
		line, err := e.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read mpv reply: %w", err)
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.Event != "" || resp.RequestID != req.RequestID {
			continue
		}
		if resp.Error != "success" {
			return nil, fmt.Errorf("mpv: %s", resp.Error)
		}
		return resp.Data, nil
	}
}

func (e *Engine) setProperty(ctx context.Context, name string, value interface{}) error {
	_, err := e.roundTrip(ctx, "set_property", name, value)
	return err
}

func (e *Engine) getFloat(ctx context.Context, name string) (float64, error) {
	data, err := e.roundTrip(ctx, "get_property", name)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (e *Engine) getBool(ctx context.Context, name string) (bool, error) {
	data, err := e.roundTrip(ctx, "get_property", name)
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false, err
	}
	return v, nil
}

func (e *Engine) Play(ctx context.Context) error {
	return e.setProperty(ctx, "pause", false)
}

func (e *Engine) Pause(ctx context.Context) error {
	return e.setProperty(ctx, "pause", true)
}

func (e *Engine) Seek(ctx context.Context, position float64) error {
	_, err := e.roundTrip(ctx, "seek", position, "absolute")
	return err
}

func (e *Engine) SetRate(ctx context.Context, rate float64) error {
	return e.setProperty(ctx, "speed", rate)
}

func (e *Engine) Load(ctx context.Context, url string) error {
	_, err := e.roundTrip(ctx, "loadfile", url, "replace")
	return err
}

func (e *Engine) Status(ctx context.Context) (core.MediaStatus, error) {
	pos, err := e.getFloat(ctx, "time-pos")
	if err != nil {
		return core.MediaStatus{}, err
	}
	dur, err := e.getFloat(ctx, "duration")
	if err != nil {
		// Duration is unavailable before the file is fully probed.
		dur = 0
	}
	paused, err := e.getBool(ctx, "pause")
	if err != nil {
		return core.MediaStatus{}, err
	}
	buffering, err := e.getBool(ctx, "paused-for-cache")
	if err != nil {
		buffering = false
	}
	return core.MediaStatus{
		Position:  pos,
		Duration:  dur,
		IsPlaying: !paused,
		Buffering: buffering,
	}, nil
}

func (e *Engine) Close() error {
	return e.conn.Close()
}
