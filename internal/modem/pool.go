package modem

import (
	"errors"
	"fmt"
	"sync"

	"github.com/slavaboiko/smsgate/internal/models"
	"github.com/slavaboiko/smsgate/pkg/utils"
)

var (
	// ErrNoModem is returned when no modem matches the requested phone
	// number.
	ErrNoModem = errors.New("no modem available for phone number")
	// ErrModemUnknown is returned for operations on an unregistered
	// modem identifier.
	ErrModemUnknown = errors.New("unknown modem identifier")
)

// Driver is the boundary to the physical modem session (AT commands, PDU
// transmission). Implementations live outside this subsystem.
type Driver interface {
	SendSMS(sms *models.SMS) error
	SendUSSD(code string) (string, error)
	ReadStoredSMS() ([]*models.SMS, error)
}

// Stats is one telemetry and health row, as reported by get_stats.
type Stats struct {
	PhoneNumber        string  `json:"phone_number"`
	CurrentNetwork     string  `json:"current_network"`
	CurrentSignal      int     `json:"current_signal"`
	Status             string  `json:"status"`
	Balance            float64 `json:"balance"`
	Currency           string  `json:"currency"`
	Sent               int     `json:"sent"`
	Received           int     `json:"received"`
	HealthStateShort   string  `json:"health_state_short"`
	HealthStateMessage string  `json:"health_state_message"`
}

// Modem is one registered modem with its in-memory receive buffer. The
// buffer is the only owner of live SMS instances; durable history lives in
// the event store once emitted.
type Modem struct {
	Identifier  string
	PhoneNumber string

	driver Driver

	buffer []*models.SMS
	// byRef indexes incomplete multipart messages by sender and message
	// reference so later parts find their canonical instance.
	byRef map[partKey]*models.SMS

	stats Stats
}

type partKey struct {
	sender string
	ref    int
}

// NewModem registers the receive-side state for one physical modem.
func NewModem(identifier, phoneNumber string, driver Driver) *Modem {
	return &Modem{
		Identifier:  identifier,
		PhoneNumber: phoneNumber,
		driver:      driver,
		byRef:       make(map[partKey]*models.SMS),
		stats: Stats{
			PhoneNumber:      phoneNumber,
			Status:           "initialized",
			HealthStateShort: utils.HealthOK,
		},
	}
}

// receive merges an incoming SMS (one instance per part, as produced by
// the driver) into the buffer. The first part to arrive becomes the
// canonical instance; later parts of the same logical message are folded
// into it. Returns the canonical instance and whether it was newly
// buffered.
func (m *Modem) receive(sms *models.SMS) (*models.SMS, bool, error) {
	sms.ReceivingModem = m.Identifier
	m.stats.Received++

	if sms.MessageRef == nil || sms.PartNumber == nil {
		m.buffer = append(m.buffer, sms)
		return sms, true, nil
	}

	key := partKey{sender: sms.Sender, ref: *sms.MessageRef}
	canonical, ok := m.byRef[key]
	if !ok {
		if err := sms.AddPart(*sms.PartNumber, sms.Text); err != nil {
			return nil, false, err
		}
		m.byRef[key] = sms
		m.buffer = append(m.buffer, sms)
		return sms, true, nil
	}

	if sms.TotalParts > canonical.TotalParts {
		canonical.TotalParts = sms.TotalParts
	}
	if err := canonical.AddPart(*sms.PartNumber, sms.Text); err != nil {
		return nil, false, err
	}
	if canonical.IsPartComplete() {
		delete(m.byRef, key)
	}
	return canonical, false, nil
}

// Pool manages all registered modems and the state shared between them:
// the delivery-status set for outgoing messages and the per-modem receive
// buffers.
type Pool struct {
	mu        sync.RWMutex
	modems    map[string]*Modem
	order     []string
	delivered map[string]bool
}

// NewPool creates an empty modem pool.
func NewPool() *Pool {
	return &Pool{
		modems:    make(map[string]*Modem),
		delivered: make(map[string]bool),
	}
}

// Register adds a modem to the pool. Registering the same identifier
// twice replaces the previous entry but keeps its position.
func (p *Pool) Register(m *Modem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.modems[m.Identifier]; !ok {
		p.order = append(p.order, m.Identifier)
	}
	p.modems[m.Identifier] = m
}

// IdentifiersForPhoneNumber returns the identifiers of modems whose SIM
// matches the phone number. An empty phone number matches every modem.
func (p *Pool) IdentifiersForPhoneNumber(phoneNumber string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var ids []string
	for _, id := range p.order {
		if phoneNumber == "" || p.modems[id].PhoneNumber == phoneNumber {
			ids = append(ids, id)
		}
	}
	return ids
}

// SendSMS transmits an SMS through the modem matching the sender phone
// number, or through any modem when the sender is empty. The message is
// tracked as undelivered until the driver's delivery report arrives.
func (p *Pool) SendSMS(sms *models.SMS) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var m *Modem
	for _, id := range p.order {
		candidate := p.modems[id]
		if sms.Sender == "" || candidate.PhoneNumber == sms.Sender {
			m = candidate
			break
		}
	}
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrNoModem, sms.Sender)
	}

	if err := m.driver.SendSMS(sms); err != nil {
		return "", fmt.Errorf("modem %s failed to send: %w", m.Identifier, err)
	}
	m.stats.Sent++
	p.delivered[sms.ID] = false
	return sms.ID, nil
}

// DeliveryStatus reports whether an outgoing SMS has been confirmed
// delivered. Unknown IDs read as not delivered.
func (p *Pool) DeliveryStatus(smsID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.delivered[smsID]
}

// MarkDelivered records a delivery report from the driver.
func (p *Pool) MarkDelivered(smsID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered[smsID] = true
}

// Receive feeds one driver-produced SMS (a complete message or a single
// part) into the modem's buffer. Returns the canonical buffered instance
// and whether it is a new entry rather than a merged part.
func (p *Pool) Receive(modemID string, sms *models.SMS) (*models.SMS, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.modems[modemID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrModemUnknown, modemID)
	}
	return m.receive(sms)
}

// BufferedSMS returns the live receive buffer of one modem.
func (p *Pool) BufferedSMS(modemID string) []*models.SMS {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.modems[modemID]
	if !ok {
		return nil
	}
	out := make([]*models.SMS, len(m.buffer))
	copy(out, m.buffer)
	return out
}

// ClearBuffer drops all buffered SMS of one modem, after they have been
// emitted to the event store.
func (p *Pool) ClearBuffer(modemID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.modems[modemID]; ok {
		m.buffer = nil
		m.byRef = make(map[partKey]*models.SMS)
	}
}

// ReadStoredSMS collects SMS held in modem-resident storage across all
// modems.
func (p *Pool) ReadStoredSMS() ([]*models.SMS, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var all []*models.SMS
	for _, id := range p.order {
		m := p.modems[id]
		stored, err := m.driver.ReadStoredSMS()
		if err != nil {
			return nil, fmt.Errorf("modem %s: %w", id, err)
		}
		for _, sms := range stored {
			if sms != nil {
				sms.ReceivingModem = id
				all = append(all, sms)
			}
		}
	}
	return all, nil
}

// SendUSSD sends a USSD code through one modem and returns the decoded
// response. The call blocks until the driver answers.
func (p *Pool) SendUSSD(modemID, code string) (string, error) {
	p.mu.RLock()
	m, ok := p.modems[modemID]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrModemUnknown, modemID)
	}
	return m.driver.SendUSSD(code)
}

// UpdateTelemetry refreshes the cached stats row for a modem.
func (p *Pool) UpdateTelemetry(modemID string, update func(*Stats)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.modems[modemID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrModemUnknown, modemID)
	}
	update(&m.stats)
	return nil
}

// Stats returns the telemetry and health row of every modem.
func (p *Pool) Stats() map[string]Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	stats := make(map[string]Stats, len(p.modems))
	for id, m := range p.modems {
		stats[id] = m.stats
	}
	return stats
}

// HealthState aggregates per-modem health into the pool's overall level
// and a concatenation of the individual messages.
func (p *Pool) HealthState() (string, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var levels []string
	var messages string
	for _, id := range p.order {
		m := p.modems[id]
		levels = append(levels, m.stats.HealthStateShort)
		if m.stats.HealthStateMessage != "" {
			if messages != "" {
				messages += "; "
			}
			messages += m.stats.HealthStateMessage
		}
	}
	return utils.HighestWarningLevel(levels), messages
}
