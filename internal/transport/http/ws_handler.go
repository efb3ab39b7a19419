package http

import (
	"encoding/json"
	"log"
	"net/http"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"github.com/gorilla/websocket"
)

type WSHandler struct {
	assessments  *app.AssessmentService
	leaderboards *app.LeaderboardService
	upgrader     websocket.Upgrader
}

func NewWSHandler(assessments *app.AssessmentService, leaderboards *app.LeaderboardService) *WSHandler {
	return &WSHandler{
		assessments:  assessments,
		leaderboards: leaderboards,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startPayload struct {
	ChapterID string   `json:"chapterId"`
	Topics    []string `json:"topics,omitempty"`
}

type submitPayload struct {
	SessionID string         `json:"sessionId"`
	Answers   []answerOnWire `json:"answers"`
}

// answerOnWire accepts answerIndex as a single number or an array so single-
// and multi-select clients share one shape. A missing or null index marks the
// question as skipped.
type answerOnWire struct {
	QuestionID     string          `json:"questionId"`
	AnswerIndex    json.RawMessage `json:"answerIndex"`
	ElapsedSeconds float64         `json:"elapsedSeconds,omitempty"`
}

func (a answerOnWire) toDomain() (domain.Answer, error) {
	answer := domain.Answer{QuestionID: a.QuestionID, ElapsedSeconds: a.ElapsedSeconds}
	if len(a.AnswerIndex) == 0 || string(a.AnswerIndex) == "null" {
		return answer, nil
	}
	var single int
	if err := json.Unmarshal(a.AnswerIndex, &single); err == nil {
		answer.Indexes = []int{single}
		return answer, nil
	}
	var many []int
	if err := json.Unmarshal(a.AnswerIndex, &many); err != nil {
		return domain.Answer{}, domain.ErrInvalidAnswerPayload
	}
	answer.Indexes = many
	return answer, nil
}

type leaderboardPayload struct {
	ChapterID string `json:"chapterId"`
}

// questionView is the learner-visible projection of a snapshot. The correct
// answer set and the captured ratings stay server-side until results.
type questionView struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Topics  []string `json:"topics,omitempty"`
}

type questionsPayload struct {
	SessionID string         `json:"sessionId"`
	ExpiresAt int64          `json:"expiresAt"`
	Partial   bool           `json:"partial,omitempty"`
	Questions []questionView `json:"questions"`
}

// answerKey travels with the results so clients can highlight the correct
// options without a second round trip.
type answerKey struct {
	QuestionID string `json:"questionId"`
	Correct    []int  `json:"correct"`
}

type resultsPayload struct {
	SessionID string              `json:"sessionId"`
	Summary   domain.ScoreSummary `json:"scoreSummary"`
	AnswerKey []answerKey         `json:"answerKey,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and drives the assessment use cases over one
// connection. All writes funnel through a single writer goroutine so handler
// code never writes to the socket concurrently.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			h.handleStart(r, userID, inbound.Payload, send)
		case "submit":
			h.handleSubmit(r, inbound.Payload, send)
		case "leaderboard":
			h.handleLeaderboard(r, userID, inbound.Payload, send)
		default:
			send <- errorMessage(nil, "unsupported message type")
		}
	}

	close(send)
	<-writerDone
}

func (h *WSHandler) handleStart(r *http.Request, userID string, raw json.RawMessage, send chan<- outboundMessage[any]) {
	var payload startPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChapterID == "" {
		send <- errorMessage(domain.ErrInvalidAnswerPayload, "start requires a chapterId")
		return
	}

	session, err := h.assessments.Start(r.Context(), app.StartRequest{
		UserID:    userID,
		ChapterID: payload.ChapterID,
		Topics:    payload.Topics,
	})
	if err != nil {
		send <- errorMessage(err, "could not start assessment")
		return
	}

	questions := make([]questionView, len(session.Snapshots))
	for i, snap := range session.Snapshots {
		questions[i] = questionView{
			ID:      snap.Question.ID,
			Prompt:  snap.Question.Prompt,
			Options: snap.Question.Options,
			Topics:  snap.Question.Topics,
		}
	}
	send <- outboundMessage[any]{Type: "questions", Payload: questionsPayload{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.Unix(),
		Partial:   session.Partial,
		Questions: questions,
	}}
}

func (h *WSHandler) handleSubmit(r *http.Request, raw json.RawMessage, send chan<- outboundMessage[any]) {
	var payload submitPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.SessionID == "" {
		send <- errorMessage(domain.ErrInvalidAnswerPayload, "submit requires a sessionId and answers")
		return
	}

	answers := make([]domain.Answer, 0, len(payload.Answers))
	for _, a := range payload.Answers {
		answer, err := a.toDomain()
		if err != nil {
			send <- errorMessage(err, "invalid answer payload")
			return
		}
		answers = append(answers, answer)
	}

	summary, err := h.assessments.Submit(r.Context(), payload.SessionID, answers)
	if err != nil {
		send <- errorMessage(err, "could not grade submission")
		return
	}

	var key []answerKey
	if session, err := h.assessments.Session(r.Context(), payload.SessionID); err == nil {
		for _, snap := range session.Snapshots {
			key = append(key, answerKey{QuestionID: snap.Question.ID, Correct: snap.Question.Correct})
		}
	}

	if len(summary.Bonuses) > 0 {
		send <- outboundMessage[any]{Type: "bonuses", Payload: summary.Bonuses}
	}
	send <- outboundMessage[any]{Type: "results", Payload: resultsPayload{
		SessionID: payload.SessionID,
		Summary:   *summary,
		AnswerKey: key,
	}}
}

func (h *WSHandler) handleLeaderboard(r *http.Request, userID string, raw json.RawMessage, send chan<- outboundMessage[any]) {
	var payload leaderboardPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ChapterID == "" {
		send <- errorMessage(domain.ErrInvalidAnswerPayload, "leaderboard requires a chapterId")
		return
	}

	view, err := h.leaderboards.Leaderboard(r.Context(), payload.ChapterID, userID)
	if err != nil {
		send <- errorMessage(err, "could not load leaderboard")
		return
	}
	send <- outboundMessage[any]{Type: "leaderboard", Payload: view}
}

func errorMessage(err error, fallback string) outboundMessage[any] {
	message := fallback
	if err != nil {
		message = err.Error()
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{
		Kind:    domain.ErrorKind(err),
		Message: message,
	}}
}
