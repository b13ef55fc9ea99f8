// Package e2e provides end-to-end tests over a small multi-chat conversation corpus.
package e2e

import (
	"time"

	"github.com/hyperjump/recall/internal/models"
)

// QueryTestCase defines a question and the message that must lead the grounding context.
type QueryTestCase struct {
	Query       string
	ExpectedID  string
	Description string
}

// Corpus holds messages and question test cases for E2E tests.
type Corpus struct {
	Messages     []*models.Message
	TestCases    []QueryTestCase
	TotalQueries int
}

func msg(id, chatJID, chatName, sender, content string, ts int64, fromMe bool) *models.Message {
	return &models.Message{
		ID:        id,
		ChatJID:   chatJID,
		ChatName:  chatName,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Unix(ts, 0).UTC(),
		IsFromMe:  fromMe,
	}
}

// BuildCorpus returns three chats and one question per memorable message. Each question
// uses words that occur in its expected message.
func BuildCorpus() *Corpus {
	messages := []*models.Message{
		msg("ana-1", "ana@s.whatsapp.net", "Ana", "Ana", "The dentist moved my appointment to Thursday at nine", 1700000000, false),
		msg("ana-2", "ana@s.whatsapp.net", "Ana", "Me", "Perfect, I will pick you up after the appointment", 1700000060, true),
		msg("ana-3", "ana@s.whatsapp.net", "Ana", "Ana", "My favourite colour is turquoise, not green", 1700000120, false),
		msg("ana-4", "ana@s.whatsapp.net", "Ana", "Ana", "ok", 1700000180, false),
		msg("bob-1", "bob@s.whatsapp.net", "Bob", "Bob", "The plumber fixed the kitchen sink yesterday", 1700001000, false),
		msg("bob-2", "bob@s.whatsapp.net", "Bob", "Me", "How much did the plumber charge you", 1700001060, true),
		msg("bob-3", "bob@s.whatsapp.net", "Bob", "Bob", "Eighty euros including the replacement valve", 1700001120, false),
		msg("bob-4", "bob@s.whatsapp.net", "Bob", "Bob", "Remember to water the tomatoes while I travel to Lisbon", 1700001180, false),
		msg("fam-1", "family@g.us", "Family", "Mum", "Grandma turns ninety on Sunday, bring a cake", 1700002000, false),
		msg("fam-2", "family@g.us", "Family", "Dad", "I booked the restaurant by the harbour for eight people", 1700002060, false),
		msg("fam-3", "family@g.us", "Family", "Me", "I can bake the chocolate cake myself", 1700002120, true),
		msg("fam-4", "family@g.us", "Family", "Mum", "The wifi password at the cottage is bluewhale42", 1700002180, false),
	}
	cases := []QueryTestCase{
		{"dentist Thursday", "ana-1", "appointment day"},
		{"favourite colour turquoise", "ana-3", "personal preference"},
		{"plumber kitchen sink", "bob-1", "repair, with a second message mentioning the plumber"},
		{"euros replacement valve", "bob-3", "price"},
		{"water tomatoes Lisbon", "bob-4", "favour asked"},
		{"Grandma ninety Sunday", "fam-1", "birthday"},
		{"restaurant harbour booked", "fam-2", "reservation"},
		{"chocolate bake", "fam-3", "own message"},
		{"wifi password cottage", "fam-4", "personal data"},
	}
	return &Corpus{
		Messages:     messages,
		TestCases:    cases,
		TotalQueries: len(cases),
	}
}

// ByID returns the corpus message with id, or nil.
func (c *Corpus) ByID(id string) *models.Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}
