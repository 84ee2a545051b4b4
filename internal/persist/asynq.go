package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"refgate-bot/internal/models"
	"refgate-bot/internal/store"
)

const (
	TypeSaveUser      = "persist:user"
	TypeSaveReferral  = "persist:referral"
	TypeSavePending   = "persist:pending"
	TypeDeletePending = "persist:pending_delete"
)

type deletePendingPayload struct {
	ReferredID int64 `json:"referred_id"`
}

// AsynqQueue enqueues persistence tasks on redis. asynq retries failed
// handlers, giving the write-behind path its at-least-once guarantee.
type AsynqQueue struct {
	client *asynq.Client
}

func NewAsynqQueue(redisAddr, redisPassword string) *AsynqQueue {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
	})
	return &AsynqQueue{client: client}
}

func (q *AsynqQueue) enqueue(taskType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s payload: %v", taskType, err)
		return
	}
	if _, err := q.client.Enqueue(asynq.NewTask(taskType, data)); err != nil {
		// Accepted durability gap: the in-memory mutation stands, the
		// periodic flush will catch the record up.
		log.Printf("Failed to enqueue %s task: %v", taskType, err)
	}
}

func (q *AsynqQueue) SaveUser(u *models.User) {
	q.enqueue(TypeSaveUser, u)
}

func (q *AsynqQueue) SaveReferral(r models.Referral) {
	q.enqueue(TypeSaveReferral, r)
}

func (q *AsynqQueue) SavePending(p models.PendingReferral) {
	q.enqueue(TypeSavePending, p)
}

func (q *AsynqQueue) DeletePending(referredID int64) {
	q.enqueue(TypeDeletePending, deletePendingPayload{ReferredID: referredID})
}

func (q *AsynqQueue) Close() error {
	return q.client.Close()
}

// Worker drains the persistence queue into the store.
type Worker struct {
	server *asynq.Server
	store  store.Store
}

func NewWorker(redisAddr, redisPassword string, st store.Store) *Worker {
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr, Password: redisPassword},
		asynq.Config{Concurrency: 5},
	)
	return &Worker{server: server, store: st}
}

func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSaveUser, w.handleSaveUser)
	mux.HandleFunc(TypeSaveReferral, w.handleSaveReferral)
	mux.HandleFunc(TypeSavePending, w.handleSavePending)
	mux.HandleFunc(TypeDeletePending, w.handleDeletePending)
	return w.server.Start(mux)
}

func (w *Worker) Shutdown() {
	w.server.Shutdown()
}

func (w *Worker) handleSaveUser(_ context.Context, t *asynq.Task) error {
	var u models.User
	if err := json.Unmarshal(t.Payload(), &u); err != nil {
		return fmt.Errorf("bad %s payload: %w", TypeSaveUser, err)
	}
	return w.store.SaveUser(&u)
}

func (w *Worker) handleSaveReferral(_ context.Context, t *asynq.Task) error {
	var r models.Referral
	if err := json.Unmarshal(t.Payload(), &r); err != nil {
		return fmt.Errorf("bad %s payload: %w", TypeSaveReferral, err)
	}
	return w.store.SaveReferral(r)
}

func (w *Worker) handleSavePending(_ context.Context, t *asynq.Task) error {
	var p models.PendingReferral
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad %s payload: %w", TypeSavePending, err)
	}
	return w.store.SavePending(p)
}

func (w *Worker) handleDeletePending(_ context.Context, t *asynq.Task) error {
	var p deletePendingPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad %s payload: %w", TypeDeletePending, err)
	}
	return w.store.DeletePending(p.ReferredID)
}
