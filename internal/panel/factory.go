package panel

import (
	"fmt"

	"github.com/mersvpn/mersyar/internal/models"
)

// NewGateway builds the vendor client for a stored panel credential.
func NewGateway(p *models.Panel) (Gateway, error) {
	switch p.Type {
	case models.PanelTypeMarzban:
		return NewMarzbanClient(p.APIURL, p.Username, p.Password), nil
	case models.PanelTypeXUI:
		return NewXUIClient(p.APIURL, p.Username, p.Password), nil
	case models.PanelTypeMarzneshin:
		return NewMarzneshinClient(p.APIURL, p.Username, p.Password), nil
	default:
		return nil, fmt.Errorf("unsupported panel type: %s", p.Type)
	}
}
