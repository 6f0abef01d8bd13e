package rewards

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
)

// FarmMessage is the msg payload of a token transfer that funds a new farm.
// Dates are nanosecond timestamps encoded as decimal strings.
type FarmMessage struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func ParseFarmMessage(msg string) (FarmMessage, error) {
	var m FarmMessage
	if err := json.Unmarshal([]byte(msg), &m); err != nil {
		return FarmMessage{}, fmt.Errorf("%w: malformed farm message: %v", domain.ErrInvalidFarm, err)
	}
	if _, _, err := m.window(); err != nil {
		return FarmMessage{}, err
	}
	return m, nil
}

func (m FarmMessage) window() (uint64, uint64, error) {
	start, err := strconv.ParseUint(m.StartDate, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: start_date %q", domain.ErrInvalidFarm, m.StartDate)
	}
	end, err := strconv.ParseUint(m.EndDate, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: end_date %q", domain.ErrInvalidFarm, m.EndDate)
	}
	return start, end, nil
}

// OnTokenTransfer creates a farm funded by a transfer of amount of tokenID.
// Only the farm owner may fund farms.
func (r *Registry) OnTokenTransfer(tokenID, sender, owner string, amount domain.Amount, msg string) (domain.FarmView, error) {
	if sender != owner {
		return domain.FarmView{}, fmt.Errorf("%w: %s cannot fund farms", domain.ErrPermissionDenied, sender)
	}
	m, err := ParseFarmMessage(msg)
	if err != nil {
		return domain.FarmView{}, err
	}
	start, end, _ := m.window()
	return r.CreateFarm(m.Name, tokenID, amount, start, end)
}
