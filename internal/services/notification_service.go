// internal/services/notification_service.go
package services

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gopkg.in/gomail.v2"

	"clientray/internal/repositories"
)

const NotificationTypeRecurringAssignment = "recurring_assignment"

// MentionNotifier delivers "you were assigned" mentions. Implementations are
// best-effort and must never block or fail the caller: the materializer
// invokes this after its transaction has committed.
type MentionNotifier interface {
	NotifyAssignment(taskID int64, userIDs []int64, byUserID int64, notifType string)
}

type notificationService struct {
	users repositories.UserRepository
	bot   *tgbotapi.BotAPI // nil when telegram is not configured
	mail  *gomail.Dialer   // nil when smtp is not configured
	from  string
}

// NewNotificationService wires the mention fan-out. Either channel may be
// absent; with both absent deliveries are logged and dropped.
func NewNotificationService(users repositories.UserRepository, bot *tgbotapi.BotAPI, mail *gomail.Dialer, fromEmail string) MentionNotifier {
	return &notificationService{users: users, bot: bot, mail: mail, from: fromEmail}
}

func (s *notificationService) NotifyAssignment(taskID int64, userIDs []int64, byUserID int64, notifType string) {
	if len(userIDs) == 0 {
		return
	}
	ids := append([]int64(nil), userIDs...)
	go s.deliver(taskID, ids, byUserID, notifType)
}

func (s *notificationService) deliver(taskID int64, userIDs []int64, byUserID int64, notifType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, uid := range userIDs {
		user, err := s.users.FindByID(ctx, uid)
		if err != nil {
			log.Printf("[notify][%s][err] user=%d lookup: %v", notifType, uid, err)
			continue
		}
		if user == nil {
			log.Printf("[notify][%s][skip] user=%d not found", notifType, uid)
			continue
		}

		text := fmt.Sprintf("You were assigned to task #%d (recurring).", taskID)

		if s.bot != nil && user.TelegramChatID != nil {
			msg := tgbotapi.NewMessage(*user.TelegramChatID, text)
			if _, err := s.bot.Send(msg); err != nil {
				log.Printf("[notify][%s][tg][err] user=%d: %v", notifType, uid, err)
			} else {
				continue
			}
		}

		if s.mail != nil && user.Email != "" {
			if err := s.sendEmail(user.Email, taskID); err != nil {
				log.Printf("[notify][%s][mail][err] user=%d: %v", notifType, uid, err)
			}
			continue
		}

		log.Printf("[notify][%s][skip] user=%d has no delivery channel", notifType, uid)
	}
}

func (s *notificationService) sendEmail(to string, taskID int64) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", "New task assigned to you")

	body := fmt.Sprintf(`
		<p>A recurring task produced a new occurrence and you are on its assignee list.</p>
		<p>Task: <b>#%d</b></p>
	`, taskID)
	m.SetBody("text/html", body)

	if err := s.mail.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send assignment email: %w", err)
	}
	return nil
}
