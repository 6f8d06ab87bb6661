package cardapi

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yanqian/weathercards/internal/domain/cards"
	apperrors "github.com/yanqian/weathercards/pkg/errors"
)

// decodeGroup parses and validates a generation response. Cards missing an
// optional field inherit it from the request.
func decodeGroup(body []byte, req cards.Request) (cards.Group, error) {
	var group cards.Group
	if err := json.Unmarshal(body, &group); err != nil {
		return cards.Group{}, apperrors.Wrap(apperrors.CodeMalformedResponse, "card response is not valid json", err)
	}
	if strings.TrimSpace(group.GroupID) == "" {
		return cards.Group{}, apperrors.Wrap(apperrors.CodeMalformedResponse, "card response has no groupId", nil)
	}
	if len(group.Cards) == 0 {
		return cards.Group{}, apperrors.Wrap(apperrors.CodeMalformedResponse, "card response has no cards", nil)
	}
	if group.TriggerType == "" {
		group.TriggerType = req.Weather.TriggerType
	}
	for i := range group.Cards {
		card := &group.Cards[i]
		if strings.TrimSpace(card.CardID) == "" || strings.TrimSpace(card.Text) == "" {
			return cards.Group{}, apperrors.Wrap(apperrors.CodeMalformedResponse, fmt.Sprintf("card %d lacks id or text", i), nil)
		}
		if card.TriggerType == "" {
			card.TriggerType = group.TriggerType
		}
		if card.Tone == "" {
			card.Tone = req.Tone
		}
		if card.Source == "" {
			card.Source = cards.SourceLLM
		}
	}
	return group, nil
}
