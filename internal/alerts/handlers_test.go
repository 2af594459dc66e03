// ABOUTME: Alert handler tests on an in-memory store fake and the memory queue.
// ABOUTME: Asserts fan-out counts, payload contents and the recovered-condition no-ops.
package alerts_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcastro2021/nexa-worker/internal/alerts"
	"github.com/mcastro2021/nexa-worker/internal/notify"
	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/store"
	"github.com/mcastro2021/nexa-worker/internal/worker"
)

// fakeStore serves entities from in-memory maps. The List methods return
// pre-seeded slices; the Get methods return (nil, nil) for unknown ids like
// the real store does.
type fakeStore struct {
	stock      map[uuid.UUID]*store.StockItem
	projects   map[uuid.UUID]*store.Project
	clients    map[uuid.UUID]*store.Client
	payments   map[uuid.UUID]*store.Payment
	milestones map[uuid.UUID][]store.Milestone

	lowStock []store.StockItem
	delayed  []store.Project
	dueSoon  []store.Payment
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stock:      map[uuid.UUID]*store.StockItem{},
		projects:   map[uuid.UUID]*store.Project{},
		clients:    map[uuid.UUID]*store.Client{},
		payments:   map[uuid.UUID]*store.Payment{},
		milestones: map[uuid.UUID][]store.Milestone{},
	}
}

func (f *fakeStore) GetStockItem(_ context.Context, id uuid.UUID) (*store.StockItem, error) {
	return f.stock[id], nil
}
func (f *fakeStore) ListLowStockItems(context.Context) ([]store.StockItem, error) {
	return f.lowStock, nil
}
func (f *fakeStore) GetProject(_ context.Context, id uuid.UUID) (*store.Project, error) {
	return f.projects[id], nil
}
func (f *fakeStore) GetClient(_ context.Context, id uuid.UUID) (*store.Client, error) {
	return f.clients[id], nil
}
func (f *fakeStore) ListPendingMilestones(_ context.Context, projectID uuid.UUID) ([]store.Milestone, error) {
	return f.milestones[projectID], nil
}
func (f *fakeStore) ListDelayedProjects(context.Context, time.Time) ([]store.Project, error) {
	return f.delayed, nil
}
func (f *fakeStore) GetPayment(_ context.Context, id uuid.UUID) (*store.Payment, error) {
	return f.payments[id], nil
}
func (f *fakeStore) ListPaymentsDueWithin(context.Context, time.Time, int) ([]store.Payment, error) {
	return f.dueSoon, nil
}

var _ alerts.Store = (*fakeStore)(nil)

func testConfig() alerts.Config {
	return alerts.Config{
		InternalRecipients: []string{"admin@nexa.local", "logistics@nexa.local"},
		LogisticsPhone:     "+5491100000000",
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// jobsByKind lists the jobs sitting in the given queue grouped by kind.
func jobsByKind(t *testing.T, q *queue.Memory, queueName string) map[string][]queue.Job {
	t.Helper()
	jobs, err := q.List(context.Background(), queue.ListFilter{Queue: queueName})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := map[string][]queue.Job{}
	for _, j := range jobs {
		out[j.Kind] = append(out[j.Kind], j)
	}
	return out
}

func TestHandleStockLow(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	item := &store.StockItem{
		ID: uuid.New(), SKU: "CEM-001", Name: "Portland cement",
		Unit: "bags", Quantity: 5, Minimum: 10, LeadTimeDays: 4, Active: true,
	}
	fs.stock[item.ID] = item

	err := h.HandleStockLow(context.Background(), mustJSON(t, alerts.StockLowPayload{StockItemID: item.ID}))
	if err != nil {
		t.Fatalf("HandleStockLow: %v", err)
	}

	byKind := jobsByKind(t, q, queue.QueueNotifications)
	if len(byKind[queue.KindEmail]) != 1 || len(byKind[queue.KindWhatsApp]) != 1 {
		t.Fatalf("notifications = %v, want 1 email + 1 whatsapp", byKind)
	}

	var email notify.EmailPayload
	if err := json.Unmarshal(byKind[queue.KindEmail][0].Payload, &email); err != nil {
		t.Fatalf("unmarshal email payload: %v", err)
	}
	if email.Type != "stock_alert" {
		t.Errorf("email type = %q", email.Type)
	}
	if len(email.Recipients) != 2 {
		t.Errorf("email recipients = %v, want the 2 internal addresses", email.Recipients)
	}
	if !strings.Contains(email.Subject, item.Name) {
		t.Errorf("email subject %q does not name the item", email.Subject)
	}

	var msg notify.MessagePayload
	if err := json.Unmarshal(byKind[queue.KindWhatsApp][0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal message payload: %v", err)
	}
	if msg.Phone != testConfig().LogisticsPhone {
		t.Errorf("message phone = %q, want logistics", msg.Phone)
	}
	if !strings.Contains(msg.Message, "CEM-001") {
		t.Errorf("message %q does not name the SKU", msg.Message)
	}
}

func TestHandleStockLow_SkipsWhenRecoveredOrMissing(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	recovered := &store.StockItem{ID: uuid.New(), SKU: "ARE-002", Name: "Sand", Quantity: 30, Minimum: 10}
	fs.stock[recovered.ID] = recovered

	for name, id := range map[string]uuid.UUID{
		"recovered": recovered.ID,
		"missing":   uuid.New(),
	} {
		err := h.HandleStockLow(context.Background(), mustJSON(t, alerts.StockLowPayload{StockItemID: id}))
		if err != nil {
			t.Errorf("%s: HandleStockLow = %v, want nil", name, err)
		}
	}
	if jobs, _ := q.List(context.Background(), queue.ListFilter{}); len(jobs) != 0 {
		t.Errorf("notifications enqueued for non-alert conditions: %v", jobs)
	}
}

func TestHandleStockLow_BadPayloadIsPermanent(t *testing.T) {
	t.Parallel()
	h := alerts.New(newFakeStore(), queue.NewMemory(), testConfig())

	err := h.HandleStockLow(context.Background(), json.RawMessage(`{not json`))
	if !worker.IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
}

func TestHandleProjectDelay(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	h.SetNow(func() time.Time { return now })

	client := &store.Client{ID: uuid.New(), Name: "Acme Corp", Phone: "+5491122223333"}
	project := &store.Project{ID: uuid.New(), ClientID: client.ID, Name: "Warehouse extension", Status: store.ProjectActive}
	fs.clients[client.ID] = client
	fs.projects[project.ID] = project
	fs.milestones[project.ID] = []store.Milestone{
		{ID: uuid.New(), ProjectID: project.ID, Status: store.MilestonePending, PlannedDate: now.AddDate(0, 0, -5)},
		{ID: uuid.New(), ProjectID: project.ID, Status: store.MilestonePending, PlannedDate: now.AddDate(0, 0, 10)},
	}

	err := h.HandleProjectDelay(context.Background(), mustJSON(t, alerts.ProjectDelayPayload{ProjectID: project.ID}))
	if err != nil {
		t.Fatalf("HandleProjectDelay: %v", err)
	}

	byKind := jobsByKind(t, q, queue.QueueNotifications)
	if len(byKind[queue.KindWhatsApp]) != 1 || len(byKind[queue.KindEmail]) != 1 {
		t.Fatalf("notifications = %v, want 1 whatsapp + 1 email", byKind)
	}

	var msg notify.MessagePayload
	if err := json.Unmarshal(byKind[queue.KindWhatsApp][0].Payload, &msg); err != nil {
		t.Fatalf("unmarshal message: %v", err)
	}
	if msg.Phone != client.Phone {
		t.Errorf("message phone = %q, want client phone", msg.Phone)
	}

	var email notify.EmailPayload
	if err := json.Unmarshal(byKind[queue.KindEmail][0].Payload, &email); err != nil {
		t.Fatalf("unmarshal email: %v", err)
	}
	if email.Data["overdue_milestones"] != float64(1) {
		t.Errorf("overdue_milestones = %v, want 1", email.Data["overdue_milestones"])
	}
}

func TestHandleProjectDelay_NoOverdueIsNoOp(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	h.SetNow(func() time.Time { return now })

	project := &store.Project{ID: uuid.New(), ClientID: uuid.New(), Name: "On-time build"}
	fs.projects[project.ID] = project
	fs.milestones[project.ID] = []store.Milestone{
		{ID: uuid.New(), ProjectID: project.ID, Status: store.MilestonePending, PlannedDate: now.AddDate(0, 0, 3)},
	}

	err := h.HandleProjectDelay(context.Background(), mustJSON(t, alerts.ProjectDelayPayload{ProjectID: project.ID}))
	if err != nil {
		t.Fatalf("HandleProjectDelay: %v", err)
	}
	if jobs, _ := q.List(context.Background(), queue.ListFilter{}); len(jobs) != 0 {
		t.Errorf("notifications enqueued with nothing overdue: %v", jobs)
	}
}

func TestHandleProjectDelay_ClientWithoutPhoneStillEmails(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	h.SetNow(func() time.Time { return now })

	client := &store.Client{ID: uuid.New(), Name: "No Phone SA"}
	project := &store.Project{ID: uuid.New(), ClientID: client.ID, Name: "Silent project"}
	fs.clients[client.ID] = client
	fs.projects[project.ID] = project
	fs.milestones[project.ID] = []store.Milestone{
		{ID: uuid.New(), ProjectID: project.ID, Status: store.MilestonePending, PlannedDate: now.AddDate(0, 0, -1)},
	}

	err := h.HandleProjectDelay(context.Background(), mustJSON(t, alerts.ProjectDelayPayload{ProjectID: project.ID}))
	if err != nil {
		t.Fatalf("HandleProjectDelay: %v", err)
	}

	byKind := jobsByKind(t, q, queue.QueueNotifications)
	if len(byKind[queue.KindWhatsApp]) != 0 {
		t.Errorf("whatsapp sent to a client without a phone")
	}
	if len(byKind[queue.KindEmail]) != 1 {
		t.Errorf("internal email missing: %v", byKind)
	}
}

func TestHandlePaymentReminder(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		dueIn      time.Duration
		status     string
		wantNotify bool
	}{
		{"due in 2 days", 48 * time.Hour, store.PaymentPending, true},
		{"overdue", -24 * time.Hour, store.PaymentPending, true},
		{"due in 10 days", 240 * time.Hour, store.PaymentPending, false},
		{"already paid", 48 * time.Hour, store.PaymentPaid, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fs := newFakeStore()
			q := queue.NewMemory()
			h := alerts.New(fs, q, testConfig())
			h.SetNow(func() time.Time { return now })

			client := &store.Client{ID: uuid.New(), Name: "Acme", Phone: "+5491144445555"}
			project := &store.Project{ID: uuid.New(), ClientID: client.ID, Name: "Office refit"}
			due := now.Add(tc.dueIn)
			payment := &store.Payment{
				ID: uuid.New(), ProjectID: project.ID, ClientID: client.ID,
				Concept: "Certificate 3", Amount: 125000.50, Status: tc.status, DueDate: &due,
			}
			fs.clients[client.ID] = client
			fs.projects[project.ID] = project
			fs.payments[payment.ID] = payment

			err := h.HandlePaymentReminder(context.Background(),
				mustJSON(t, alerts.PaymentReminderPayload{PaymentID: payment.ID}))
			if err != nil {
				t.Fatalf("HandlePaymentReminder: %v", err)
			}

			byKind := jobsByKind(t, q, queue.QueueNotifications)
			got := len(byKind[queue.KindWhatsApp])
			want := 0
			if tc.wantNotify {
				want = 1
			}
			if got != want {
				t.Fatalf("whatsapp reminders = %d, want %d", got, want)
			}
			if tc.wantNotify {
				var msg notify.MessagePayload
				if err := json.Unmarshal(byKind[queue.KindWhatsApp][0].Payload, &msg); err != nil {
					t.Fatalf("unmarshal: %v", err)
				}
				for _, part := range []string{"Office refit", "Certificate 3", "125000.50"} {
					if !strings.Contains(msg.Message, part) {
						t.Errorf("reminder %q missing %q", msg.Message, part)
					}
				}
			}
		})
	}
}

func TestHandleMaintenanceCheck_FansOut(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	h.SetNow(func() time.Time { return now })

	fs.lowStock = []store.StockItem{
		{ID: uuid.New(), SKU: "CEM-001", Quantity: 2, Minimum: 10},
		{ID: uuid.New(), SKU: "HIE-008", Quantity: 0, Minimum: 5},
	}
	fs.delayed = []store.Project{
		{ID: uuid.New(), Name: "Late build"},
	}
	fs.dueSoon = []store.Payment{
		{ID: uuid.New(), Concept: "Advance"},
		{ID: uuid.New(), Concept: "Certificate 1"},
		{ID: uuid.New(), Concept: "Certificate 2"},
	}

	if err := h.HandleMaintenanceCheck(context.Background(), nil); err != nil {
		t.Fatalf("HandleMaintenanceCheck: %v", err)
	}

	byKind := jobsByKind(t, q, queue.QueueAlerts)
	if n := len(byKind[queue.KindStockLow]); n != 2 {
		t.Errorf("stock-low jobs = %d, want 2", n)
	}
	if n := len(byKind[queue.KindProjectDelay]); n != 1 {
		t.Errorf("project-delay jobs = %d, want 1", n)
	}
	if n := len(byKind[queue.KindPaymentReminder]); n != 3 {
		t.Errorf("payment-reminder jobs = %d, want 3", n)
	}

	// Fan-out jobs are staggered into the near future, never scheduled in
	// the past.
	for kind, jobs := range byKind {
		for _, j := range jobs {
			if j.NotBefore.Before(now) {
				t.Errorf("%s job scheduled at %v, before sweep time %v", kind, j.NotBefore, now)
			}
		}
	}
}

func TestHandleMaintenanceCheck_QuietSweep(t *testing.T) {
	t.Parallel()
	fs := newFakeStore()
	q := queue.NewMemory()
	h := alerts.New(fs, q, testConfig())

	if err := h.HandleMaintenanceCheck(context.Background(), nil); err != nil {
		t.Fatalf("HandleMaintenanceCheck: %v", err)
	}
	if jobs, _ := q.List(context.Background(), queue.ListFilter{}); len(jobs) != 0 {
		t.Errorf("jobs enqueued from an empty sweep: %v", jobs)
	}
}
