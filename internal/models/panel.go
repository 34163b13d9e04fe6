package models

// PanelType identifies the control-plane vendor of a panel.
type PanelType string

const (
	PanelTypeMarzban    PanelType = "marzban"
	PanelTypeXUI        PanelType = "x-ui"
	PanelTypeMarzneshin PanelType = "marzneshin"
)

// Panel maps to the `panel_credentials` table. One row per remote VPN
// control-plane instance the bot resells from.
type Panel struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"column:name;size:200;uniqueIndex" json:"name"`
	Type        PanelType `gorm:"column:panel_type;size:50" json:"panel_type"`
	APIURL      string    `gorm:"column:api_url;size:2000" json:"api_url"`
	Username    string    `gorm:"column:username;size:200" json:"username"`
	Password    string    `gorm:"column:password;size:200" json:"password"`
	IsTestPanel bool      `gorm:"column:is_test_panel;default:false" json:"is_test_panel"`
}

func (Panel) TableName() string {
	return "panel_credentials"
}
