package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/nurse-call-api/internal/model"
)

type Service interface {
	SendRequestAlert(ctx context.Context, to []string, req model.Request) error
	SendCustom(ctx context.Context, to []string, subject string, content string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpService struct {
	from   string
	sender Sender
}

func NewSMTPService(cfg Config) Service {
	return NewService(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password))
}

func NewService(from string, sender Sender) Service {
	return &smtpService{from: from, sender: sender}
}

// SendRequestAlert tells the nurse station about a new request.
func (s *smtpService) SendRequestAlert(ctx context.Context, to []string, req model.Request) error {
	subject := fmt.Sprintf("[%s] Nurse call from room %s", strings.ToUpper(string(req.Priority)), req.RoomNumber)

	var b strings.Builder
	fmt.Fprintf(&b, "Patient: %s\n", req.PatientName)
	fmt.Fprintf(&b, "Room: %s\n", req.RoomNumber)
	if req.BedNumber != nil && *req.BedNumber != "" {
		fmt.Fprintf(&b, "Bed: %s\n", *req.BedNumber)
	}
	fmt.Fprintf(&b, "Contact: %s\n", req.ContactNumber)
	fmt.Fprintf(&b, "Condition: %s\n", req.Disease)
	if req.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", req.Description)
	}
	fmt.Fprintf(&b, "Priority: %s\n", req.Priority)
	fmt.Fprintf(&b, "Submitted: %s\n", req.CreatedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "Request ID: %s\n", req.ID)

	return s.SendCustom(ctx, to, subject, b.String())
}

func (s *smtpService) SendCustom(ctx context.Context, to []string, subject string, content string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
