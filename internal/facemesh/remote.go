package facemesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RemoteDetector sends frames to a face mesh inference service over a
// websocket and reads back keypoints. One request is in flight at a time.
type RemoteDetector struct {
	cfg Config
	log logrus.FieldLogger

	mu   sync.Mutex
	conn *remoteConn
}

type remoteConn struct {
	ws   *websocket.Conn
	done chan struct{}
}

type detectResponse struct {
	Faces []detectedFace `json:"faces"`
	Error string         `json:"error,omitempty"`
}

type detectedFace struct {
	Keypoints []Point `json:"keypoints"`
	Score     float64 `json:"score"`
}

func NewRemoteDetector(cfg Config, logger logrus.FieldLogger) *RemoteDetector {
	defaults := DefaultConfig()
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	return &RemoteDetector{
		cfg: cfg,
		log: logger.WithField("component", "facemesh"),
	}
}

func (d *RemoteDetector) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return nil
	}
	if err := d.connectLocked(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return nil
}

func (d *RemoteDetector) Detect(ctx context.Context, frame []byte) (LandmarkSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		if err := d.connectLocked(ctx); err != nil {
			return LandmarkSet{}, fmt.Errorf("reconnecting to face mesh service: %w", err)
		}
	}
	ws := d.conn.ws

	ws.SetWriteDeadline(d.deadline(ctx, d.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		d.dropLocked()
		return LandmarkSet{}, fmt.Errorf("sending frame: %w", err)
	}

	ws.SetReadDeadline(d.deadline(ctx, d.cfg.ReadTimeout))
	_, message, err := ws.ReadMessage()
	if err != nil {
		d.dropLocked()
		return LandmarkSet{}, fmt.Errorf("reading landmarks: %w", err)
	}
	ws.SetReadDeadline(time.Time{})
	ws.SetWriteDeadline(time.Time{})

	var resp detectResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		return LandmarkSet{}, fmt.Errorf("decoding landmarks: %w", err)
	}
	if resp.Error != "" {
		return LandmarkSet{}, errors.New("face mesh service: " + resp.Error)
	}
	if len(resp.Faces) == 0 {
		return LandmarkSet{}, ErrNoFace
	}

	keypoints := resp.Faces[0].Keypoints
	mesh := make([][2]float64, len(keypoints))
	for i, kp := range keypoints {
		mesh[i] = [2]float64{kp.X, kp.Y}
	}
	return FromMesh(mesh), nil
}

func (d *RemoteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		d.conn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(d.cfg.WriteTimeout))
		d.dropLocked()
	}
	return nil
}

func (d *RemoteDetector) connectLocked(ctx context.Context) error {
	if d.cfg.URL == "" {
		return errors.New("face mesh service URL not configured")
	}

	dialer := websocket.Dialer{HandshakeTimeout: d.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", d.cfg.URL, err)
	}

	ws.SetPingHandler(func(appData string) error {
		if err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(d.cfg.WriteTimeout)); err != nil {
			d.log.WithError(err).Debug("Error sending pong")
		}
		return nil
	})

	d.conn = &remoteConn{ws: ws, done: make(chan struct{})}
	go d.keepAlive(d.conn)

	d.log.WithField("url", d.cfg.URL).Info("Connected to face mesh service")
	return nil
}

func (d *RemoteDetector) dropLocked() {
	if d.conn == nil {
		return
	}
	close(d.conn.done)
	d.conn.ws.Close()
	d.conn = nil
}

func (d *RemoteDetector) keepAlive(conn *remoteConn) {
	ticker := time.NewTicker(d.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			err := conn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(d.cfg.WriteTimeout))
			if err != nil {
				d.log.WithError(err).Warn("Ping failed, dropping face mesh connection")
				d.mu.Lock()
				if d.conn == conn {
					d.dropLocked()
				}
				d.mu.Unlock()
				return
			}
		}
	}
}

func (d *RemoteDetector) deadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}
	return deadline
}
