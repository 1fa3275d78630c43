package http

import (
	"fmt"

	"lumo/internal/apperr"
	"lumo/internal/model"
)

type Rewards struct {
	Lumo int64 `json:"lumo"`
}

// Response is the body of every /v1/checkin reply.
type Response struct {
	Success  bool     `json:"success"`
	Message  string   `json:"message"`
	Distance *int     `json:"distance,omitempty"`
	Rewards  *Rewards `json:"rewards,omitempty"`
}

type walletResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Balance int64  `json:"balance"`
}

func composeSuccess(res *model.CheckInResult) Response {
	d := res.Distance
	resp := Response{
		Success:  true,
		Message:  "Checked in successfully",
		Distance: &d,
	}
	if res.Rewarded() {
		resp.Message = fmt.Sprintf("Checked in successfully, you earned %d Lumo", res.Transaction.Amount)
		resp.Rewards = &Rewards{Lumo: res.Transaction.Amount}
	}
	return resp
}

// composeError never exposes the wrapped cause.
func composeError(err error) (int, Response) {
	e := apperr.From(err)
	resp := Response{Success: false, Message: e.Message}
	if e.Kind == apperr.KindOutOfRange {
		resp.Distance = e.Distance
	}
	return apperr.HTTPStatus(e.Kind), resp
}

func failure(message string) Response {
	return Response{Success: false, Message: message}
}
