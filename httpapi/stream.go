package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"SpoofDetServer/engine"
	"SpoofDetServer/frame"
	proto "SpoofDetServer/gRPC"
	iface "SpoofDetServer/interface"
	"SpoofDetServer/logger"
	"SpoofDetServer/monitor"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamResult answers one processed websocket frame. Dropped counts the
// frames skipped since the connection opened.
type StreamResult struct {
	proto.Result
	Seq     uint64              `json:"seq"`
	Dropped uint64              `json:"dropped"`
	Faces   []engine.FaceResult `json:"faces"`
}

// stream analyzes frames sent over a websocket. Binary messages are
// compressed images; text messages are JSON frames. At most one frame is in
// flight per connection and frames arriving meanwhile are dropped.
func (s *Server) stream(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.registry.Get(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxImageBytes)
	log := logger.Log().With(zap.String("engine", id), zap.String("remote", conn.RemoteAddr().String()))
	log.Info("stream opened")

	ctx := c.Request.Context()
	var (
		busy    atomic.Bool
		writeMu sync.Mutex
		wg      sync.WaitGroup
		seq     uint64
		dropped uint64
	)
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("stream read", zap.Error(err))
			}
			break
		}
		seq++
		if !busy.CompareAndSwap(false, true) {
			dropped++
			s.dropped.Add(1)
			monitor.FramesDropped.Inc()
			continue
		}
		wg.Add(1)
		go func(seq, dropped uint64) {
			defer wg.Done()
			results, err := s.analyzeView(ctx, id, func() (frame.View, error) {
				return decodeMessage(mt, msg)
			})
			busy.Store(false)
			out := StreamResult{Seq: seq, Dropped: dropped, Faces: results}
			out.Result.Success = err == nil
			st := iface.StatusOf(err)
			out.Status, out.StatusName = int32(st), st.String()
			if err != nil {
				out.Message = err.Error()
			}
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := conn.WriteJSON(out); err != nil {
				log.Debug("stream write", zap.Error(err))
			}
		}(seq, dropped)
	}
	wg.Wait()
	log.Info("stream closed", zap.Uint64("frames", seq), zap.Uint64("dropped", dropped))
}

func decodeMessage(mt int, msg []byte) (frame.View, error) {
	if mt == websocket.BinaryMessage {
		return frame.DecodeBytes(msg)
	}
	var f proto.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return frame.View{}, fmt.Errorf("%w: %v", iface.ErrInvalidFrame, err)
	}
	return f.View()
}
