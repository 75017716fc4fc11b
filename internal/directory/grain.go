package directory

import (
	"context"

	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

// Grain exposes a Directory over the RPC session layer as the Silo process's
// Directory interface (§4.3). It translates each wire Request into the
// corresponding Directory method call and encodes the result with a fresh
// Encoder per the isolated codec's no-sharing rule.
type Grain struct {
	dir  *Directory
	log  *zap.Logger
	chat ChatFanout
}

func NewGrain(dir *Directory, chat ChatFanout, log *zap.Logger) *Grain {
	if log == nil {
		log = zap.NewNop()
	}
	return &Grain{dir: dir, chat: chat, log: log.Named("directory.grain")}
}

func (g *Grain) Dispatch(ctx context.Context, peerID string, req rpc.Request) ([]byte, error) {
	if req.InterfaceID != rpcapi.IfaceDirectory {
		return nil, rpc.ErrUnknownGrain
	}
	d := rpc.NewDecoder(req.Args)

	switch req.MethodID {
	case rpcapi.MethodRegisterActionServer:
		serverID, err1 := d.String()
		address, err2 := d.String()
		rpcPort, err3 := d.I32()
		httpPort, err4 := d.I32()
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "RegisterActionServer", err)
		}
		info, err := g.dir.RegisterActionServer(ctx, serverID, address, uint16(rpcPort), uint16(httpPort))
		if err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "RegisterActionServer", err)
		}
		return encodeActionServerInfo(info), nil

	case rpcapi.MethodUnregisterActionServer:
		serverID, err := d.String()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "UnregisterActionServer", err)
		}
		if err := g.dir.UnregisterActionServer(ctx, serverID); err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "UnregisterActionServer", err)
		}
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodGetAllActionServers:
		servers, err := g.dir.GetAllActionServers(ctx)
		if err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "GetAllActionServers", err)
		}
		e := rpc.NewEncoder().I32(int32(len(servers)))
		for _, s := range servers {
			e.Raw(encodeActionServerInfo(s))
		}
		return e.Bytes(), nil

	case rpcapi.MethodGetActionServerForPosition:
		pos, err := d.Vec2()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "GetActionServerForPosition", err)
		}
		info, ok, err := g.dir.GetActionServerForPosition(ctx, pos)
		if err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "GetActionServerForPosition", err)
		}
		return rpc.NewEncoder().Bool(ok).Raw(encodeActionServerInfo(info)).Bytes(), nil

	case rpcapi.MethodRegisterPlayer:
		playerID, err1 := d.String()
		name, err2 := d.String()
		if err := firstErr(err1, err2); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "RegisterPlayer", err)
		}
		info, err := g.dir.RegisterPlayer(ctx, playerID, name)
		if err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "RegisterPlayer", err)
		}
		return encodePlayerInfo(info), nil

	case rpcapi.MethodInitiatePlayerTransfer:
		playerID, err1 := d.String()
		pos, err2 := d.Vec2()
		if err := firstErr(err1, err2); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "InitiatePlayerTransfer", err)
		}
		info, transferred, err := g.dir.InitiatePlayerTransfer(ctx, playerID, pos)
		if err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "InitiatePlayerTransfer", err)
		}
		e := rpc.NewEncoder().Bool(transferred)
		if transferred {
			e.String(info.PlayerID).Raw(encodeActionServerInfo(info.Source)).Raw(encodeActionServerInfo(info.Target))
		}
		return e.Bytes(), nil

	case rpcapi.MethodUpdatePlayerPositionVelocity:
		playerID, err1 := d.String()
		pos, err2 := d.Vec2()
		vel, err3 := d.Vec2()
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "UpdatePlayerPositionAndVelocity", err)
		}
		if err := g.dir.UpdatePlayerPositionAndVelocity(ctx, playerID, pos, vel); err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "UpdatePlayerPositionAndVelocity", err)
		}
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodBroadcastChatMessage:
		msg, err := d.String()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "BroadcastChatMessage", err)
		}
		if err := g.dir.BroadcastChatMessage(ctx, msg, g.chat); err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "BroadcastChatMessage", err)
		}
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	case rpcapi.MethodUpdateActionServerHeartbeat:
		serverID, err := d.String()
		if err != nil {
			return nil, rpc.WrapError(rpc.KindArgumentDecode, "UpdateActionServerHeartbeat", err)
		}
		if err := g.dir.UpdateActionServerHeartbeat(ctx, serverID); err != nil {
			return nil, rpc.WrapError(rpc.KindApplication, "UpdateActionServerHeartbeat", err)
		}
		return rpc.NewEncoder().Bool(true).Bytes(), nil

	default:
		return nil, rpc.ErrUnknownMethod
	}
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func encodeActionServerInfo(info grid.ActionServerInfo) []byte {
	return rpc.NewEncoder().
		String(info.ServerID).
		String(info.Address).
		I32(int32(info.RPCPort)).
		I32(int32(info.HTTPPort)).
		I32(info.AssignedSquare.X).
		I32(info.AssignedSquare.Y).
		I32(int32(info.Status)).
		Time(info.RegisteredAt).
		Time(info.LastHeartbeat).
		Bytes()
}

// DecodeActionServerInfo mirrors encodeActionServerInfo; exported so the
// actionserver and router packages (the directory's RPC clients) can decode
// a Response without duplicating the wire layout.
func DecodeActionServerInfo(d *rpc.Decoder) (grid.ActionServerInfo, error) {
	serverID, err := d.String()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	address, err := d.String()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	rpcPort, err := d.I32()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	httpPort, err := d.I32()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	x, err := d.I32()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	y, err := d.I32()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	status, err := d.I32()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	registeredAt, err := d.Time()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	lastHeartbeat, err := d.Time()
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	return grid.ActionServerInfo{
		ServerID:       serverID,
		Address:        address,
		RPCPort:        uint16(rpcPort),
		HTTPPort:       uint16(httpPort),
		AssignedSquare: grid.Square{X: x, Y: y},
		Status:         grid.ServerStatus(status),
		RegisteredAt:   registeredAt,
		LastHeartbeat:  lastHeartbeat,
	}, nil
}

func encodePlayerInfo(info grid.PlayerInfo) []byte {
	return rpc.NewEncoder().
		String(info.PlayerID).
		String(info.Name).
		Vec2(info.Position).
		Vec2(info.Velocity).
		F64(float64(info.Health)).
		I32(info.CurrentZone.X).
		I32(info.CurrentZone.Y).
		String(info.HomeServer).
		Time(info.LastSeen).
		Bytes()
}

// DecodePlayerInfo mirrors encodePlayerInfo.
func DecodePlayerInfo(d *rpc.Decoder) (grid.PlayerInfo, error) {
	playerID, err := d.String()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	name, err := d.String()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	pos, err := d.Vec2()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	vel, err := d.Vec2()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	health, err := d.F64()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	zx, err := d.I32()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	zy, err := d.I32()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	home, err := d.String()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	lastSeen, err := d.Time()
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	return grid.PlayerInfo{
		PlayerID:    playerID,
		Name:        name,
		Position:    pos,
		Velocity:    vel,
		Health:      float32(health),
		CurrentZone: grid.Square{X: zx, Y: zy},
		HomeServer:  home,
		LastSeen:    lastSeen,
	}, nil
}
