package services

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/olahol/melody"
	"go.uber.org/zap"

	"ward-backend/models"
)

// EventPublisher receives allocation events after their transaction commits.
type EventPublisher interface {
	Publish(ev models.AllocationEvent)
}

// MelodyHub pushes committed allocation events to every connected /ws client.
type MelodyHub struct {
	m   *melody.Melody
	log *zap.Logger
}

func NewMelodyHub(log *zap.Logger) *MelodyHub {
	m := melody.New()
	h := &MelodyHub{m: m, log: log}
	m.HandleConnect(func(s *melody.Session) {
		log.Debug("ws client connected", zap.String("remote", s.Request.RemoteAddr))
	})
	m.HandleError(func(s *melody.Session, err error) {
		log.Debug("ws session error", zap.Error(err))
	})
	return h
}

func (h *MelodyHub) HandleRequest(w http.ResponseWriter, r *http.Request) error {
	return h.m.HandleRequest(w, r)
}

func (h *MelodyHub) Publish(ev models.AllocationEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Warn("encode allocation event", zap.Error(err))
		return
	}
	if err := h.m.Broadcast(data); err != nil && !errors.Is(err, melody.ErrClosed) {
		h.log.Warn("broadcast allocation event", zap.Error(err))
	}
}

func (h *MelodyHub) Close() error {
	return h.m.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(models.AllocationEvent) {}
