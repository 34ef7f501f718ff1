package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"

	"github.com/coursemart/backend/internal/models"
	"github.com/coursemart/backend/pkg/mailer"
	"github.com/coursemart/backend/pkg/queue"
	"github.com/coursemart/backend/pkg/receipt"
	"github.com/coursemart/backend/pkg/storage"
)

var purchaseTmpl = template.Must(template.New("purchase").Parse(`<p>Hi {{.Name}},</p>
<p>Thank you for your purchase. Your payment of <strong>{{.Amount}}</strong> for course <strong>{{.CourseID}}</strong> was successful and the course is now available in your account.</p>
<p>Receipt: {{.ReceiptID}}<br>Payment ID: {{.PaymentID}}</p>
<p>{{.Merchant}}</p>`))

type purchaseView struct {
	Name      string
	Amount    string
	CourseID  string
	ReceiptID string
	PaymentID string
	Merchant  string
}

func purchaseSubject(courseID string) string {
	return "Your enrollment in " + courseID + " is confirmed"
}

func (p *Processor) sendPurchaseEmail(ctx context.Context, payload queue.PurchaseEmailPayload) error {
	pay, err := p.creditedPayment(ctx, payload.PaymentID)
	if err != nil {
		return err
	}
	log := p.logger.With(zap.String("payment_id", pay.ID.String()))

	if !payload.Resend {
		sent, err := p.Logs.HasSent(ctx, pay.ID, models.EmailTypePurchaseConfirmation)
		if err != nil {
			return fmt.Errorf("check email log: %w", err)
		}
		if sent {
			log.Info("purchase email already sent")
			return nil
		}
	}

	contact, err := p.Contacts.GetContact(ctx, pay.UserID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	if contact == nil || contact.Email == "" {
		return permanent("no email address for user %s", pay.UserID)
	}

	data := p.receiptData(pay)
	var html bytes.Buffer
	name := contact.FullName
	if name == "" {
		name = "there"
	}
	if err := purchaseTmpl.Execute(&html, purchaseView{
		Name:      name,
		Amount:    receipt.FormatAmount(pay.AmountMinor, pay.Currency),
		CourseID:  pay.CourseID,
		ReceiptID: pay.ReceiptID,
		PaymentID: pay.GatewayPaymentID,
		Merchant:  p.Merchant,
	}); err != nil {
		return &permanentError{err: err}
	}
	msg := mailer.Message{
		To:      contact.Email,
		Subject: purchaseSubject(pay.CourseID),
		HTML:    html.String(),
	}
	// The email still goes out without the attachment.
	if pdf, err := receipt.RenderPDF(data); err != nil {
		log.Warn("receipt render failed", zap.Error(err))
	} else {
		msg.Attachments = append(msg.Attachments, mailer.Attachment{
			Name:        pay.ReceiptID + ".pdf",
			ContentType: storage.ContentTypePDF,
			Data:        pdf,
		})
	}

	entry := &models.EmailLog{
		PaymentID:      pay.ID,
		EmailType:      models.EmailTypePurchaseConfirmation,
		RecipientEmail: contact.Email,
		Subject:        msg.Subject,
	}
	if err := p.Logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("create email log: %w", err)
	}

	if err := p.Mailer.Send(msg); err != nil {
		if mErr := p.Logs.MarkFailed(ctx, entry.ID, err.Error()); mErr != nil {
			log.Error("mark email failed", zap.Error(mErr))
		}
		if errors.Is(err, mailer.ErrNotConfigured) {
			return &permanentError{err: err}
		}
		return err
	}
	if err := p.Logs.MarkSent(ctx, entry.ID); err != nil {
		log.Error("mark email sent", zap.Error(err))
	}
	log.Info("purchase email sent", zap.String("to", contact.Email))
	return nil
}
