package notify

import (
	"fmt"

	"offer-pipeline/internal/models"
)

// Template is the rendered subject/body pair handed to a channel.
type Template struct {
	Subject string
	Body    string
}

// TemplateFor selects the message template. It is a pure function of the
// recipient type, event type, and status transition, so locale or channel
// specific variants can replace it wholesale.
func TemplateFor(recipientType, eventType, oldStatus, newStatus string) Template {
	switch eventType {
	case models.EventOfferAccepted:
		if recipientType == RecipientCandidate {
			return Template{
				Subject: "Your offer acceptance is confirmed",
				Body:    "We recorded your acceptance. Your other active applications have been withdrawn.",
			}
		}
		return Template{
			Subject: "Candidate accepted the offer",
			Body:    "The candidate accepted the offer. Follow-up reminders have been scheduled.",
		}
	case models.EventStateChanged:
		return Template{
			Subject: fmt.Sprintf("Application moved to %s", newStatus),
			Body:    fmt.Sprintf("Status changed from %s to %s.", oldStatus, newStatus),
		}
	case models.EventApplicationWithdrawn:
		if recipientType == RecipientCandidate {
			return Template{
				Subject: "Application withdrawn",
				Body:    "This application was withdrawn because you accepted a competing offer.",
			}
		}
		return Template{
			Subject: "Application withdrawn",
			Body:    fmt.Sprintf("The application moved from %s to withdrawn.", oldStatus),
		}
	default:
		return Template{
			Subject: "Application update",
			Body:    fmt.Sprintf("Event %s occurred on your application.", eventType),
		}
	}
}
