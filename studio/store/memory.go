// Package store provides an in-memory studio.TxStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/aryzhykau/atlantis-engine/studio"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.Mutex
	data
}

type data struct {
	clients       map[string]studio.Client
	students      map[string]studio.Student
	trainers      map[string]studio.Trainer
	types         map[string]studio.TrainingType
	rates         map[string]studio.TrainerRate
	plans         map[string]studio.SubscriptionPlan
	templates     map[string]studio.TrainingTemplate
	tmplStudents  map[string]studio.TemplateStudent
	trainings     map[string]studio.Training
	attendance    map[string]studio.AttendanceRecord
	subscriptions map[string]studio.StudentSubscription
	invoices      map[string]studio.Invoice
	payments      map[string]studio.Payment
	history       []studio.PaymentHistory
	expenses      []studio.Expense
	runs          map[string]studio.BatchRun

	// insertion order, used as the tie breaker where SQL would use rowid
	seq   int64
	order map[string]int64
}

func NewMemory() *Memory {
	return &Memory{data: newData()}
}

func newData() data {
	return data{
		clients:       make(map[string]studio.Client),
		students:      make(map[string]studio.Student),
		trainers:      make(map[string]studio.Trainer),
		types:         make(map[string]studio.TrainingType),
		rates:         make(map[string]studio.TrainerRate),
		plans:         make(map[string]studio.SubscriptionPlan),
		templates:     make(map[string]studio.TrainingTemplate),
		tmplStudents:  make(map[string]studio.TemplateStudent),
		trainings:     make(map[string]studio.Training),
		attendance:    make(map[string]studio.AttendanceRecord),
		subscriptions: make(map[string]studio.StudentSubscription),
		invoices:      make(map[string]studio.Invoice),
		payments:      make(map[string]studio.Payment),
		runs:          make(map[string]studio.BatchRun),
		order:         make(map[string]int64),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(studio.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()

	if err := fn(&txView{d: &m.data}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

func (d *data) clone() data {
	c := newData()
	copyMap(c.clients, d.clients)
	copyMap(c.students, d.students)
	copyMap(c.trainers, d.trainers)
	copyMap(c.types, d.types)
	copyMap(c.rates, d.rates)
	copyMap(c.plans, d.plans)
	copyMap(c.templates, d.templates)
	copyMap(c.tmplStudents, d.tmplStudents)
	copyMap(c.trainings, d.trainings)
	copyMap(c.attendance, d.attendance)
	copyMap(c.subscriptions, d.subscriptions)
	copyMap(c.invoices, d.invoices)
	copyMap(c.payments, d.payments)
	copyMap(c.runs, d.runs)
	copyMap(c.order, d.order)
	c.history = append([]studio.PaymentHistory(nil), d.history...)
	c.expenses = append([]studio.Expense(nil), d.expenses...)
	c.seq = d.seq
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (d *data) track(id string) {
	d.seq++
	d.order[id] = d.seq
}

// txView is the Store handed to WithTx callbacks. The caller holds the lock.
type txView struct {
	d *data
}

var _ studio.Store = (*txView)(nil)

// =============================================================================
// DIRECTORY
// =============================================================================

func (tv *txView) CreateClient(_ context.Context, c studio.Client) error {
	if _, ok := tv.d.clients[c.ID]; ok {
		return studio.Conflict("client", "id %s already exists", c.ID)
	}
	tv.d.clients[c.ID] = c
	return nil
}

func (tv *txView) GetClient(_ context.Context, id string) (*studio.Client, error) {
	c, ok := tv.d.clients[id]
	if !ok {
		return nil, studio.NotFound("client", id)
	}
	return &c, nil
}

func (tv *txView) UpdateClient(_ context.Context, c studio.Client) error {
	if _, ok := tv.d.clients[c.ID]; !ok {
		return studio.NotFound("client", c.ID)
	}
	tv.d.clients[c.ID] = c
	return nil
}

func (tv *txView) CreateStudent(_ context.Context, s studio.Student) error {
	if _, ok := tv.d.students[s.ID]; ok {
		return studio.Conflict("student", "id %s already exists", s.ID)
	}
	tv.d.students[s.ID] = s
	return nil
}

func (tv *txView) GetStudent(_ context.Context, id string) (*studio.Student, error) {
	s, ok := tv.d.students[id]
	if !ok {
		return nil, studio.NotFound("student", id)
	}
	return &s, nil
}

func (tv *txView) CreateTrainer(_ context.Context, t studio.Trainer) error {
	if _, ok := tv.d.trainers[t.ID]; ok {
		return studio.Conflict("trainer", "id %s already exists", t.ID)
	}
	tv.d.trainers[t.ID] = t
	return nil
}

func (tv *txView) GetTrainer(_ context.Context, id string) (*studio.Trainer, error) {
	t, ok := tv.d.trainers[id]
	if !ok {
		return nil, studio.NotFound("trainer", id)
	}
	return &t, nil
}

func (tv *txView) CreateTrainingType(_ context.Context, t studio.TrainingType) error {
	if _, ok := tv.d.types[t.ID]; ok {
		return studio.Conflict("training_type", "id %s already exists", t.ID)
	}
	if t.CutoffTime != nil {
		c := *t.CutoffTime
		t.CutoffTime = &c
	}
	tv.d.types[t.ID] = t
	return nil
}

func (tv *txView) GetTrainingType(_ context.Context, id string) (*studio.TrainingType, error) {
	t, ok := tv.d.types[id]
	if !ok {
		return nil, studio.NotFound("training_type", id)
	}
	if t.CutoffTime != nil {
		c := *t.CutoffTime
		t.CutoffTime = &c
	}
	return &t, nil
}

func (tv *txView) SetTrainerRate(_ context.Context, r studio.TrainerRate) error {
	for id, existing := range tv.d.rates {
		if existing.TrainerID == r.TrainerID && existing.TrainingTypeID == r.TrainingTypeID {
			r.ID = id
		}
	}
	tv.d.rates[r.ID] = r
	return nil
}

func (tv *txView) FindTrainerRate(_ context.Context, trainerID, trainingTypeID string) (*studio.TrainerRate, error) {
	for _, r := range tv.d.rates {
		if r.TrainerID == trainerID && r.TrainingTypeID == trainingTypeID {
			return &r, nil
		}
	}
	return nil, nil
}

func (tv *txView) CreateSubscriptionPlan(_ context.Context, p studio.SubscriptionPlan) error {
	if _, ok := tv.d.plans[p.ID]; ok {
		return studio.Conflict("subscription_plan", "id %s already exists", p.ID)
	}
	tv.d.plans[p.ID] = p
	return nil
}

func (tv *txView) GetSubscriptionPlan(_ context.Context, id string) (*studio.SubscriptionPlan, error) {
	p, ok := tv.d.plans[id]
	if !ok {
		return nil, studio.NotFound("subscription_plan", id)
	}
	return &p, nil
}

// =============================================================================
// SCHEDULE
// =============================================================================

func (tv *txView) CreateTemplate(_ context.Context, t studio.TrainingTemplate) error {
	for _, existing := range tv.d.templates {
		if existing.TrainerID == t.TrainerID && existing.Weekday == t.Weekday && existing.StartTime == t.StartTime {
			return studio.Conflict("training_template", "trainer %s already has a template on day %d at %s",
				t.TrainerID, t.Weekday, t.StartTime)
		}
	}
	tv.d.templates[t.ID] = t
	tv.d.track(t.ID)
	return nil
}

func (tv *txView) GetTemplate(_ context.Context, id string) (*studio.TrainingTemplate, error) {
	t, ok := tv.d.templates[id]
	if !ok {
		return nil, studio.NotFound("training_template", id)
	}
	return &t, nil
}

func (tv *txView) ListTemplates(_ context.Context) ([]studio.TrainingTemplate, error) {
	out := make([]studio.TrainingTemplate, 0, len(tv.d.templates))
	for _, t := range tv.d.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return tv.d.order[out[i].ID] < tv.d.order[out[j].ID]
	})
	return out, nil
}

func (tv *txView) AddTemplateStudent(_ context.Context, ts studio.TemplateStudent) error {
	if _, ok := tv.d.templates[ts.TemplateID]; !ok {
		return studio.NotFound("training_template", ts.TemplateID)
	}
	for _, existing := range tv.d.tmplStudents {
		if existing.TemplateID == ts.TemplateID && existing.StudentID == ts.StudentID {
			return studio.Conflict("template_student", "student %s already assigned to template %s",
				ts.StudentID, ts.TemplateID)
		}
	}
	tv.d.tmplStudents[ts.ID] = ts
	return nil
}

func (tv *txView) ListTemplateStudents(_ context.Context, templateID string) ([]studio.TemplateStudent, error) {
	var out []studio.TemplateStudent
	for _, ts := range tv.d.tmplStudents {
		if ts.TemplateID == templateID {
			out = append(out, ts)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (tv *txView) CreateTraining(_ context.Context, t studio.Training) error {
	if _, ok := tv.d.trainings[t.ID]; ok {
		return studio.Conflict("training", "id %s already exists", t.ID)
	}
	if t.TemplateID != "" {
		for _, existing := range tv.d.trainings {
			if existing.TemplateID == t.TemplateID && existing.Date.Equal(t.Date) {
				return studio.Conflict("training", "template %s already has a training on %s", t.TemplateID, t.Date)
			}
		}
	}
	tv.d.trainings[t.ID] = t
	tv.d.track(t.ID)
	return nil
}

func (tv *txView) GetTraining(_ context.Context, id string) (*studio.Training, error) {
	t, ok := tv.d.trainings[id]
	if !ok {
		return nil, studio.NotFound("training", id)
	}
	return &t, nil
}

func (tv *txView) UpdateTraining(_ context.Context, t studio.Training) error {
	if _, ok := tv.d.trainings[t.ID]; !ok {
		return studio.NotFound("training", t.ID)
	}
	tv.d.trainings[t.ID] = t
	return nil
}

func (tv *txView) FindTrainingByTemplate(_ context.Context, templateID string, date studio.Date) (*studio.Training, error) {
	for _, t := range tv.d.trainings {
		if t.TemplateID == templateID && t.Date.Equal(date) {
			return &t, nil
		}
	}
	return nil, nil
}

func (tv *txView) ListTrainingsOn(_ context.Context, date studio.Date) ([]studio.Training, error) {
	var out []studio.Training
	for _, t := range tv.d.trainings {
		if t.Date.Equal(date) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime.String() < out[j].StartTime.String()
		}
		return tv.d.order[out[i].ID] < tv.d.order[out[j].ID]
	})
	return out, nil
}

func (tv *txView) CreateAttendance(_ context.Context, r studio.AttendanceRecord) error {
	if _, ok := tv.d.trainings[r.TrainingID]; !ok {
		return studio.NotFound("training", r.TrainingID)
	}
	if r.IsActive() {
		for _, existing := range tv.d.attendance {
			if existing.TrainingID == r.TrainingID && existing.StudentID == r.StudentID && existing.IsActive() {
				return studio.Conflict("attendance", "student %s already registered on training %s",
					r.StudentID, r.TrainingID)
			}
		}
	}
	tv.d.attendance[r.ID] = r
	tv.d.track(r.ID)
	return nil
}

func (tv *txView) UpdateAttendance(_ context.Context, r studio.AttendanceRecord) error {
	if _, ok := tv.d.attendance[r.ID]; !ok {
		return studio.NotFound("attendance", r.ID)
	}
	tv.d.attendance[r.ID] = r
	return nil
}

func (tv *txView) FindActiveAttendance(_ context.Context, trainingID, studentID string) (*studio.AttendanceRecord, error) {
	for _, r := range tv.d.attendance {
		if r.TrainingID == trainingID && r.StudentID == studentID && r.IsActive() {
			return &r, nil
		}
	}
	return nil, nil
}

func (tv *txView) GetAttendance(_ context.Context, id string) (*studio.AttendanceRecord, error) {
	r, ok := tv.d.attendance[id]
	if !ok {
		return nil, studio.NotFound("attendance", id)
	}
	return &r, nil
}

func (tv *txView) ListAttendance(_ context.Context, trainingID string) ([]studio.AttendanceRecord, error) {
	var out []studio.AttendanceRecord
	for _, r := range tv.d.attendance {
		if r.TrainingID == trainingID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tv.d.order[out[i].ID] < tv.d.order[out[j].ID] })
	return out, nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func (tv *txView) CreateSubscription(_ context.Context, s studio.StudentSubscription) error {
	if _, ok := tv.d.subscriptions[s.ID]; ok {
		return studio.Conflict("subscription", "id %s already exists", s.ID)
	}
	tv.d.subscriptions[s.ID] = cloneSubscription(s)
	tv.d.track(s.ID)
	return nil
}

func (tv *txView) GetSubscription(_ context.Context, id string) (*studio.StudentSubscription, error) {
	s, ok := tv.d.subscriptions[id]
	if !ok {
		return nil, studio.NotFound("subscription", id)
	}
	s = cloneSubscription(s)
	return &s, nil
}

func (tv *txView) UpdateSubscription(_ context.Context, s studio.StudentSubscription) error {
	if _, ok := tv.d.subscriptions[s.ID]; !ok {
		return studio.NotFound("subscription", s.ID)
	}
	tv.d.subscriptions[s.ID] = cloneSubscription(s)
	return nil
}

func (tv *txView) ListStudentSubscriptions(_ context.Context, studentID string) ([]studio.StudentSubscription, error) {
	return tv.subscriptionsWhere(func(s studio.StudentSubscription) bool { return s.StudentID == studentID }), nil
}

func (tv *txView) ListSubscriptionsEndingOn(_ context.Context, date studio.Date) ([]studio.StudentSubscription, error) {
	return tv.subscriptionsWhere(func(s studio.StudentSubscription) bool { return s.EndDate.Equal(date) }), nil
}

func (tv *txView) ListFrozenSubscriptions(_ context.Context) ([]studio.StudentSubscription, error) {
	return tv.subscriptionsWhere(func(s studio.StudentSubscription) bool { return s.FreezeEnd != nil }), nil
}

func (tv *txView) subscriptionsWhere(keep func(studio.StudentSubscription) bool) []studio.StudentSubscription {
	var out []studio.StudentSubscription
	for _, s := range tv.d.subscriptions {
		if keep(s) {
			out = append(out, cloneSubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return tv.d.order[out[i].ID] < tv.d.order[out[j].ID]
	})
	return out
}

func cloneSubscription(s studio.StudentSubscription) studio.StudentSubscription {
	if s.FreezeStart != nil {
		d := *s.FreezeStart
		s.FreezeStart = &d
	}
	if s.FreezeEnd != nil {
		d := *s.FreezeEnd
		s.FreezeEnd = &d
	}
	return s
}

// =============================================================================
// BILLING
// =============================================================================

func (tv *txView) CreateInvoice(_ context.Context, inv studio.Invoice) error {
	if _, ok := tv.d.invoices[inv.ID]; ok {
		return studio.Conflict("invoice", "id %s already exists", inv.ID)
	}
	tv.d.invoices[inv.ID] = inv
	tv.d.track(inv.ID)
	return nil
}

func (tv *txView) GetInvoice(_ context.Context, id string) (*studio.Invoice, error) {
	inv, ok := tv.d.invoices[id]
	if !ok {
		return nil, studio.NotFound("invoice", id)
	}
	return &inv, nil
}

func (tv *txView) UpdateInvoice(_ context.Context, inv studio.Invoice) error {
	if _, ok := tv.d.invoices[inv.ID]; !ok {
		return studio.NotFound("invoice", inv.ID)
	}
	tv.d.invoices[inv.ID] = inv
	return nil
}

func (tv *txView) ListInvoices(_ context.Context, f studio.InvoiceFilter) ([]studio.Invoice, error) {
	var out []studio.Invoice
	for _, inv := range tv.d.invoices {
		if matchInvoice(inv, f) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return tv.d.order[out[i].ID] < tv.d.order[out[j].ID]
	})
	return out, nil
}

func matchInvoice(inv studio.Invoice, f studio.InvoiceFilter) bool {
	if f.ClientID != "" && inv.ClientID != f.ClientID {
		return false
	}
	if f.StudentID != "" && inv.StudentID != f.StudentID {
		return false
	}
	if f.TrainingID != "" && inv.TrainingID != f.TrainingID {
		return false
	}
	if f.SubscriptionID != "" && inv.SubscriptionID != f.SubscriptionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if inv.Status == st {
			return true
		}
	}
	return false
}

func (tv *txView) CreatePayment(_ context.Context, p studio.Payment) error {
	if _, ok := tv.d.payments[p.ID]; ok {
		return studio.Conflict("payment", "id %s already exists", p.ID)
	}
	tv.d.payments[p.ID] = p
	return nil
}

func (tv *txView) GetPayment(_ context.Context, id string) (*studio.Payment, error) {
	p, ok := tv.d.payments[id]
	if !ok {
		return nil, studio.NotFound("payment", id)
	}
	return &p, nil
}

func (tv *txView) UpdatePayment(_ context.Context, p studio.Payment) error {
	if _, ok := tv.d.payments[p.ID]; !ok {
		return studio.NotFound("payment", p.ID)
	}
	tv.d.payments[p.ID] = p
	return nil
}

func (tv *txView) AppendPaymentHistory(_ context.Context, h studio.PaymentHistory) error {
	tv.d.history = append(tv.d.history, h)
	return nil
}

func (tv *txView) ListPaymentHistory(_ context.Context, clientID string) ([]studio.PaymentHistory, error) {
	var out []studio.PaymentHistory
	for _, h := range tv.d.history {
		if h.ClientID == clientID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (tv *txView) CreateExpense(_ context.Context, e studio.Expense) error {
	if e.Type == studio.ExpenseTrainerSalary {
		for _, existing := range tv.d.expenses {
			if existing.Type == studio.ExpenseTrainerSalary && existing.TrainingID == e.TrainingID {
				return studio.Conflict("expense", "salary for training %s already recorded", e.TrainingID)
			}
		}
	}
	tv.d.expenses = append(tv.d.expenses, e)
	return nil
}

func (tv *txView) ListExpenses(_ context.Context, trainerID string) ([]studio.Expense, error) {
	var out []studio.Expense
	for _, e := range tv.d.expenses {
		if trainerID == "" || e.TrainerID == trainerID {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// BATCH RUNS
// =============================================================================

func (tv *txView) SaveBatchRun(_ context.Context, r studio.BatchRun) error {
	if _, ok := tv.d.runs[r.ID]; !ok {
		tv.d.track(r.ID)
	}
	tv.d.runs[r.ID] = r
	return nil
}

func (tv *txView) ListBatchRuns(_ context.Context, kind studio.RunKind) ([]studio.BatchRun, error) {
	var out []studio.BatchRun
	for _, r := range tv.d.runs {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return tv.d.order[out[i].ID] > tv.d.order[out[j].ID] })
	return out, nil
}
