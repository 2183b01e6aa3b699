package handlers

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"github.com/qaknc8/edupay-backend/pkg/email"
	"github.com/qaknc8/edupay-backend/pkg/logging"
)

// EmailService sends billing notifications. When no SMTP sender is configured
// every send becomes a logged no-op so local setups work without a mail relay.
type EmailService struct {
	sender  *email.Sender
	baseURL string
	logger  logging.Logger
}

// NewEmailService creates the notification service. sender may be nil.
func NewEmailService(sender *email.Sender, baseURL string, logger logging.Logger) *EmailService {
	return &EmailService{
		sender:  sender,
		baseURL: baseURL,
		logger:  logger,
	}
}

var billCreatedTemplate = template.Must(template.New("bill_created").Parse(`
<html>
<body>
	<h2>{{.AcademyName}}</h2>
	<p>{{.StudentName}} 학생의 수강료 청구서가 발급되었습니다.</p>
	<p>금액: {{.TotalPrice}}원</p>
	<p>납부 기한: {{.DueDate}}</p>
	<p>{{.Message}}</p>
	<p><a href="{{.PayURL}}">청구서 확인 및 결제</a></p>
</body>
</html>
`))

var receiptTemplate = template.Must(template.New("receipt").Parse(`
<html>
<body>
	<h2>{{.AcademyName}}</h2>
	<p>{{.StudentName}} 학생의 수강료 {{.Amount}}원이 결제되었습니다.</p>
	<p>결제 일시: {{.PaidAt}}</p>
</body>
</html>
`))

// SendBillCreated emails the student a link to view and pay the new bill
func (s *EmailService) SendBillCreated(ctx context.Context, to, academyName, studentName string, billID int64, totalPrice int64, dueDate time.Time, message string) error {
	if s.sender == nil {
		s.logger.WithFields(logging.Fields{"bill_id": billID}).Warn("Email not configured, skipping bill notification")
		return nil
	}

	data := map[string]interface{}{
		"AcademyName": academyName,
		"StudentName": studentName,
		"TotalPrice":  totalPrice,
		"DueDate":     dueDate.Format("2006-01-02"),
		"Message":     message,
		"PayURL":      fmt.Sprintf("%s/bill/%d", s.baseURL, billID),
	}

	var body bytes.Buffer
	if err := billCreatedTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("render bill email: %w", err)
	}

	subject := fmt.Sprintf("[%s] 수강료 청구서 안내", academyName)
	return s.sender.SendMail(ctx, to, subject, body.String())
}

// SendReceipt emails the student a payment confirmation
func (s *EmailService) SendReceipt(ctx context.Context, to, academyName, studentName string, amount int64, paidAt time.Time) error {
	if s.sender == nil {
		s.logger.Warn("Email not configured, skipping receipt notification")
		return nil
	}

	data := map[string]interface{}{
		"AcademyName": academyName,
		"StudentName": studentName,
		"Amount":      amount,
		"PaidAt":      paidAt.Format("2006-01-02 15:04"),
	}

	var body bytes.Buffer
	if err := receiptTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("render receipt email: %w", err)
	}

	subject := fmt.Sprintf("[%s] 수강료 결제 확인", academyName)
	return s.sender.SendMail(ctx, to, subject, body.String())
}
