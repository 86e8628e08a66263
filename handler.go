package chunkval

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type (
	ScoresResponse struct {
		Scores []float64 `json:"scores"`
	}
	Error struct {
		Error string `json:"error"`
	}
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (v *Validator) newRouter() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/v0/chunk", v.chunkHandler)
	r.GET("/v0/scores", v.scoresHandler)
	r.GET("/v0/rounds", v.roundsHandler)
	return r
}

func (v *Validator) chunkHandler(c *gin.Context) {
	var task Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, Error{
			Error: "invalid task: " + err.Error(),
		})
		return
	}
	if task.Document == "" {
		c.JSON(http.StatusBadRequest, Error{
			Error: "document must not be empty",
		})
		return
	}

	report, err := v.runner.Forward(c.Request.Context(), &task)
	if err != nil {
		logger.Errorw("Failed to run organic round", "err", err)
		c.JSON(http.StatusBadGateway, Error{
			Error: "round failed",
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (v *Validator) scoresHandler(c *gin.Context) {
	scores := v.scores.Snapshot()
	if scores == nil {
		scores = []float64{}
	}
	c.JSON(http.StatusOK, ScoresResponse{Scores: scores})
}

func (v *Validator) roundsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnw("Failed to upgrade connection", "err", err)
		return
	}
	defer conn.Close()

	reports, unsubscribe := v.feed.subscribe()
	defer unsubscribe()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case report, ok := <-reports:
			if !ok {
				return
			}
			if err := conn.WriteJSON(report); err != nil {
				logger.Debugw("Round stream closed", "err", err)
				return
			}
		}
	}
}

// roundFeed fans completed round reports out to stream subscribers. Slow
// subscribers miss reports rather than stall the round loop.
type roundFeed struct {
	mu     sync.Mutex
	subs   map[chan *RoundReport]struct{}
	closed bool
}

func newRoundFeed() *roundFeed {
	return &roundFeed{subs: make(map[chan *RoundReport]struct{})}
}

func (f *roundFeed) subscribe() (<-chan *RoundReport, func()) {
	ch := make(chan *RoundReport, 8)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

func (f *roundFeed) publish(report *RoundReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- report:
		default:
		}
	}
}

func (f *roundFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
