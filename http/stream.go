package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"buildenergy/inference"
	"buildenergy/ml"
	"buildenergy/monitoring"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
	HandshakeTimeout: 10 * time.Second,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamReply 每条输入对应一条回复，出错时不断开连接
type streamReply struct {
	ID     string              `json:"id,omitempty"`
	Result *predictionResponse `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Field  string              `json:"field,omitempty"`
}

// predictStream 单个 websocket 连接
type predictStream struct {
	conn    *websocket.Conn
	send    chan streamReply
	done    chan struct{}
	service *inference.Service
	metrics *monitoring.MetricsCollector
	logger  *zap.Logger
}

// handleStream 处理 /api/ws/predict
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	stream := &predictStream{
		conn:    conn,
		send:    make(chan streamReply, 16),
		done:    make(chan struct{}),
		service: h.service,
		metrics: h.metrics,
		logger:  h.logger.With(zap.String("request_id", GetRequestID(r.Context()))),
	}
	stream.logger.Info("prediction stream opened")

	go stream.writePump()
	stream.readPump(r.Context())

	<-stream.done
	stream.logger.Info("prediction stream closed")
}

// readPump 读取记录并计算，结果交给 writePump
func (s *predictStream) readPump(ctx context.Context) {
	defer close(s.send)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		reply := s.handleMessage(ctx, data)
		select {
		case s.send <- reply:
		case <-s.done:
			return
		}
	}
}

// writePump 写回复并定期 ping
func (s *predictStream) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		close(s.done)
	}()

	for {
		select {
		case reply, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteJSON(reply); err != nil {
				s.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *predictStream) handleMessage(ctx context.Context, data []byte) streamReply {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil || fields == nil {
		s.count("error")
		return streamReply{Error: "invalid JSON message"}
	}

	// id 只用于关联请求和回复
	id := ""
	if raw, ok := fields["id"]; ok {
		id = fmt.Sprint(raw)
		delete(fields, "id")
	}

	rec, err := ml.DecodeRecord(fields)
	if err != nil {
		return s.errorReply(id, err)
	}
	result, err := s.service.Predict(ctx, rec)
	if err != nil {
		return s.errorReply(id, err)
	}

	s.count("ok")
	response := newPredictionResponse(result)
	return streamReply{ID: id, Result: &response}
}

func (s *predictStream) errorReply(id string, err error) streamReply {
	s.count("error")
	var infErr *ml.InferenceError
	if errors.As(err, &infErr) {
		return streamReply{ID: id, Error: err.Error(), Field: infErr.Field}
	}
	s.logger.Error("stream prediction failed", zap.Error(err))
	return streamReply{ID: id, Error: "internal server error"}
}

func (s *predictStream) count(outcome string) {
	s.metrics.IncrCounter("ws_messages_total", 1, map[string]string{"outcome": outcome})
}
