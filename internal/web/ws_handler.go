package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_bot/internal/domain"
	"github.com/vitos/crypto_trade_bot/internal/hub"
	"github.com/vitos/crypto_trade_bot/internal/usecase"
)

// inboundMessage is a dashboard command. auth carries userId at the top level;
// the other commands put their arguments in data.
type inboundMessage struct {
	Type   domain.MessageType `json:"type"`
	UserID string             `json:"userId,omitempty"`
	Data   json.RawMessage    `json:"data,omitempty"`
}

type closePositionData struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	conn := hub.NewWSConn(ws, s.writeTimeout)

	var (
		userID  string
		session hub.Conn
	)
	defer func() {
		if session != nil {
			s.hub.Unregister(userID, session)
		}
		conn.Close()
	}()

	ctx := r.Context()
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			s.logger.Warn("Malformed dashboard message", zap.String("user_id", userID), zap.ByteString("raw", truncate(raw, 256)))
			continue
		}

		if msg.Type == domain.MsgAuth {
			next, err := s.authenticate(ctx, conn, msg.UserID)
			if err != nil {
				s.logger.Warn("Auth failed", zap.String("user_id", msg.UserID), zap.Error(err))
				continue
			}
			if session != nil {
				s.hub.Unregister(userID, session)
			}
			userID, session = msg.UserID, next
			continue
		}

		if userID == "" {
			s.logger.Warn("Message before auth", zap.String("type", string(msg.Type)))
			continue
		}

		if err := s.dispatch(ctx, userID, msg); err != nil {
			s.logger.Warn("Dashboard command failed",
				zap.String("user_id", userID),
				zap.String("type", string(msg.Type)),
				zap.Error(err))
			s.service.Notify(ctx, userID, domain.LogWarning, fmt.Sprintf("%s failed: %v", msg.Type, err))
		}
	}
}

// authenticate registers a new session for userID and sends its initialData
// snapshot. Broadcasts published while the snapshot is built are held back and
// delivered right after it.
func (s *Server) authenticate(ctx context.Context, conn *hub.WSConn, userID string) (hub.Conn, error) {
	if userID == "" {
		return nil, errors.New("userId is required")
	}

	session := hub.NewGatedConn(conn)
	s.hub.Register(userID, session)

	payload, err := s.initialPayload(ctx, userID)
	if err == nil {
		err = session.Open(payload)
	}
	if err != nil {
		s.hub.Unregister(userID, session)
		return nil, err
	}

	s.logger.Info("Dashboard session authenticated", zap.String("user_id", userID), zap.Int("sessions", s.hub.Count(userID)))
	return session, nil
}

func (s *Server) initialPayload(ctx context.Context, userID string) ([]byte, error) {
	data, err := s.service.InitialData(ctx, userID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Message{Type: domain.MsgInitialData, Data: data})
}

func (s *Server) dispatch(ctx context.Context, userID string, msg inboundMessage) error {
	switch msg.Type {
	case domain.MsgStartBot:
		_, err := s.service.StartBot(ctx, userID)
		return err

	case domain.MsgStopBot:
		_, err := s.service.StopBot(ctx, userID)
		return err

	case domain.MsgUpdateSettings:
		var upd usecase.SettingsUpdate
		if err := decodeData(msg.Data, &upd); err != nil {
			return err
		}
		_, err := s.service.UpdateSettings(ctx, userID, upd)
		return err

	case domain.MsgSaveAPIKey:
		var in usecase.APIKeyInput
		if err := decodeData(msg.Data, &in); err != nil {
			return err
		}
		return s.service.SaveAPIKey(ctx, userID, in)

	case domain.MsgDeleteAPIKey:
		return s.service.DeleteAPIKey(ctx, userID)

	case domain.MsgClosePosition:
		var in closePositionData
		if err := decodeData(msg.Data, &in); err != nil {
			return err
		}
		_, err := s.service.ClosePosition(ctx, userID, in.Symbol)
		return err

	case domain.MsgClearLogs:
		return s.service.ClearLogs(ctx, userID)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
