package models

import (
	"time"

	"gorm.io/datatypes"
)

// Configuration and Style mirror the tables owned by the CRUD layer. The
// orchestration core only reads them: the configuration's values feed the
// render engine, the style points at the template and carries the JSON
// Schema the values were authored against.

type Configuration struct {
	ID         string         `gorm:"type:varchar(36);primaryKey"`
	ClientID   string         `gorm:"type:varchar(36);not null;index"`
	StyleID    string         `gorm:"type:varchar(36);not null;index"`
	Name       string         `gorm:"type:varchar(255)"`
	ConfigData datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Style struct {
	ID string `gorm:"type:varchar(36);primaryKey"`

	// TemplateKey locates the .blend template in the artifact store.
	TemplateKey  string         `gorm:"type:varchar(500);not null"`
	ConfigSchema datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
