package directory

import "time"

// ActionServerRecord is the persisted form of grid.ActionServerInfo (§3).
// GORM column tags follow the teacher's convention of an explicit snake_case
// column per field rather than relying on the default mapper everywhere.
type ActionServerRecord struct {
	ServerID      string    `gorm:"column:server_id;primaryKey"`
	Address       string    `gorm:"column:address;not null"`
	RPCPort       uint16    `gorm:"column:rpc_port;not null"`
	HTTPPort      uint16    `gorm:"column:http_port;not null"`
	SquareX       int32     `gorm:"column:square_x;not null"`
	SquareY       int32     `gorm:"column:square_y;not null"`
	Status        string    `gorm:"column:status;not null"`
	RegisteredAt  time.Time `gorm:"column:registered_at;not null"`
	LastHeartbeat time.Time `gorm:"column:last_heartbeat;not null"`
}

func (ActionServerRecord) TableName() string { return "action_servers" }

// PlayerRecord is the persisted form of grid.PlayerInfo (§3).
type PlayerRecord struct {
	PlayerID   string    `gorm:"column:player_id;primaryKey"`
	Name       string    `gorm:"column:name;not null"`
	PosX       float32   `gorm:"column:pos_x;not null"`
	PosY       float32   `gorm:"column:pos_y;not null"`
	VelX       float32   `gorm:"column:vel_x;not null"`
	VelY       float32   `gorm:"column:vel_y;not null"`
	Health     float32   `gorm:"column:health;not null"`
	ZoneX      int32     `gorm:"column:zone_x;not null"`
	ZoneY      int32     `gorm:"column:zone_y;not null"`
	HomeServer string    `gorm:"column:home_server;not null"`
	LastSeen   time.Time `gorm:"column:last_seen;not null"`
}

func (PlayerRecord) TableName() string { return "players" }
