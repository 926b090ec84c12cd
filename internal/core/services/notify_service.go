package services

import (
	"fmt"
	"log"
	"sync"
)

// ============================================================
// SSE Hub
// ============================================================

// SSEEvent represents a server-sent event
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID      string
	UserID  uint
	Channel chan SSEEvent
}

// SSEHub manages all SSE connections
type SSEHub struct {
	mu      sync.RWMutex
	clients map[string]*SSEClient
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]*SSEClient),
	}
}

// Register adds a new SSE client
func (h *SSEHub) Register(client *SSEClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	log.Printf("📡 SSE client registered: %s (user=%d) | total=%d", client.ID, client.UserID, len(h.clients))
}

// Unregister removes an SSE client
func (h *SSEHub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Channel)
		delete(h.clients, clientID)
		log.Printf("📡 SSE client unregistered: %s | total=%d", clientID, len(h.clients))
	}
}

// Broadcast sends an event to every connected client
func (h *SSEHub) Broadcast(event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, client := range h.clients {
		select {
		case client.Channel <- event:
			sent++
		default:
			// Client channel full, skip
			log.Printf("⚠️ SSE channel full for client %s, skipping", client.ID)
		}
	}
	if sent > 0 {
		log.Printf("📡 SSE broadcast [%s] → %d clients", event.Event, sent)
	}
}

// SendToUser sends an event to a specific user
func (h *SSEHub) SendToUser(userID uint, event SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if client.UserID == userID {
			select {
			case client.Channel <- event:
				log.Printf("📡 SSE sent [%s] to user %d", event.Event, userID)
			default:
				log.Printf("⚠️ SSE channel full for user %d, skipping", userID)
			}
		}
	}
}

// GetClientCount returns the number of connected clients
func (h *SSEHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ============================================================
// NotifyService — collection event notifications over SSE
// ============================================================

// NotifyService pushes batch and job lifecycle events to connected clients
type NotifyService struct {
	Hub *SSEHub
}

func NewNotifyService() *NotifyService {
	return &NotifyService{Hub: NewSSEHub()}
}

// NotifyJobCompleted informs the submitting user that their background job
// finished.
func (n *NotifyService) NotifyJobCompleted(userID uint, jobID, jobType string) {
	data := map[string]interface{}{
		"job_id":   jobID,
		"job_type": jobType,
		"message":  fmt.Sprintf("Job %s (%s) completed", jobID, jobType),
	}
	n.Hub.SendToUser(userID, SSEEvent{Event: "job_completed", Data: data})
}

// NotifyJobFailed informs the submitting user that their background job
// failed, with the error text.
func (n *NotifyService) NotifyJobFailed(userID uint, jobID, jobType, errMsg string) {
	data := map[string]interface{}{
		"job_id":   jobID,
		"job_type": jobType,
		"error":    errMsg,
		"message":  fmt.Sprintf("Job %s (%s) failed: %s", jobID, jobType, errMsg),
	}
	n.Hub.SendToUser(userID, SSEEvent{Event: "job_failed", Data: data})
}

// NotifyBatchCreated broadcasts a freshly assembled batch to all clients
func (n *NotifyService) NotifyBatchCreated(batchID uint, batchRef string, entryCount int, totalAmount string) {
	data := map[string]interface{}{
		"batch_id":     batchID,
		"batch_ref":    batchRef,
		"entry_count":  entryCount,
		"total_amount": totalAmount,
		"message":      fmt.Sprintf("Collection batch %s created with %d entries (EUR %s)", batchRef, entryCount, totalAmount),
	}
	n.Hub.Broadcast(SSEEvent{Event: "batch_created", Data: data})
}

// NotifyScheduleSuspended broadcasts that a member's schedule was suspended
// after repeated collection failures.
func (n *NotifyService) NotifyScheduleSuspended(memberID, scheduleID uint, failures int) {
	data := map[string]interface{}{
		"member_id":   memberID,
		"schedule_id": scheduleID,
		"failures":    failures,
		"message":     fmt.Sprintf("Dues schedule %d suspended after %d consecutive failed collections", scheduleID, failures),
	}
	n.Hub.Broadcast(SSEEvent{Event: "schedule_suspended", Data: data})
}

// NotifyReturnProcessed informs about a single processed bank return
func (n *NotifyService) NotifyReturnProcessed(memberID uint, invoiceNo, reasonCode string) {
	data := map[string]interface{}{
		"member_id":   memberID,
		"invoice_no":  invoiceNo,
		"reason_code": reasonCode,
		"message":     fmt.Sprintf("Collection for invoice %s returned (%s)", invoiceNo, reasonCode),
	}
	n.Hub.Broadcast(SSEEvent{Event: "return_processed", Data: data})
}
