package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hopdot/hopdot-server/internal/board"
	"github.com/hopdot/hopdot-server/internal/hub"
	"github.com/hopdot/hopdot-server/internal/session"
)

type createRequest struct {
	Players int   `json:"players,omitempty"`
	Width   uint8 `json:"width,omitempty"`
	Height  uint8 `json:"height,omitempty"`
	Seed    int64 `json:"seed,omitempty"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

func CreateSession(h *hub.Hub, log *zap.Logger, defaults Defaults) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := createRequest{
			Players: defaults.Players,
			Width:   defaults.Width,
			Height:  defaults.Height,
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad request body", http.StatusBadRequest)
				return
			}
		}
		if req.Players < 2 {
			http.Error(w, "need at least 2 players", http.StatusBadRequest)
			return
		}

		cfg := session.Config{
			Players:     req.Players,
			Layout:      board.LayoutSpec{Width: req.Width, Height: req.Height},
			Seed:        req.Seed,
			IdleTimeout: defaults.IdleTimeout,
		}
		reply := make(chan hub.CreateReply, 1)
		h.Inbox() <- hub.CreateSession{Config: cfg, Reply: reply}
		res := <-reply
		if res.Err != nil {
			if errors.Is(res.Err, board.ErrInvalidLayout) {
				http.Error(w, res.Err.Error(), http.StatusUnprocessableEntity)
				return
			}
			log.Error("failed to create session", zap.Error(res.Err))
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(createResponse{SessionID: res.Session.ID()})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
