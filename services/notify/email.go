package notifysvc

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/trezcool/masomo-eligibility/core"
	"github.com/trezcool/masomo-eligibility/core/notification"
)

const verificationTemplate = "verification"

// EmailNotifier mails the tenant's contact address.
type EmailNotifier struct {
	mailer          core.EmailService
	frontendBaseURL string
}

var _ notification.Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(mailer core.EmailService, conf *core.Config) *EmailNotifier {
	return &EmailNotifier{mailer: mailer, frontendBaseURL: conf.FrontendBaseURL}
}

type verificationData struct {
	TenantName string
	Headline   string
	Notes      string
}

// Notify is a no-op for tenants without a contact email.
func (n *EmailNotifier) Notify(ctx context.Context, intent notification.Intent) error {
	if intent.ContactEmail == "" {
		return nil
	}
	return n.mailer.SendMessages(ctx, &core.EmailMessage{
		To:              []mail.Address{{Name: intent.TenantName, Address: intent.ContactEmail}},
		Subject:         intent.Kind.Subject(),
		TemplateName:    verificationTemplate,
		FrontendBaseURL: n.frontendBaseURL,
		TemplateData: verificationData{
			TenantName: intent.TenantName,
			Headline:   headline(intent),
			Notes:      intent.Notes,
		},
	})
}

func headline(intent notification.Intent) string {
	switch intent.Kind {
	case notification.KindApproved:
		return "Your institution has been verified. All features are now available."
	case notification.KindRejected:
		return "Your verification request was not approved. You may submit an appeal from your dashboard."
	case notification.KindRequiresMoreInfo:
		if intent.Deadline != nil {
			return fmt.Sprintf("We need more information to complete your verification. Please respond before %s.",
				intent.Deadline.Format("January 2, 2006"))
		}
		return "We need more information to complete your verification."
	case notification.KindExpired:
		return "Your verification deadline has passed. Some features are now restricted."
	case notification.KindAppealApproved:
		return "Your appeal has been approved and your institution is now verified."
	case notification.KindAppealRejected:
		return "Your appeal has been reviewed and was not approved."
	case notification.KindAppealMoreInfo:
		return "We need more information to review your appeal."
	case notification.KindDeadlineReminder:
		if intent.Deadline != nil {
			return fmt.Sprintf("Your verification is still open. Please complete it before %s to keep full access.",
				intent.Deadline.Format("January 2, 2006"))
		}
		return "Your verification is still open. Please complete it to keep full access."
	}
	return intent.Kind.Subject()
}
