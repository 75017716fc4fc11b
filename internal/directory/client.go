package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

// Client is an action server's or router's RPC client to the Silo. Every
// call is wrapped in a circuit breaker: once enough directory calls fail in
// a row, the breaker opens and Call() returns fast instead of piling up
// timeouts — that repeated failure is what an action server's owner treats
// as the trigger for entering Draining (§4.4, §5 "director unreachable").
type Client struct {
	session *rpc.Session
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewClient(session *rpc.Session, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "directory-client",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("directory circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Client{session: session, breaker: cb, log: log.Named("directory.client")}
}

func (c *Client) call(ctx context.Context, methodID int32, args []byte) ([]byte, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.session.Call(ctx, rpcapi.IfaceDirectory, methodID, args)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// RegisterWithRetry retries RegisterActionServer with exponential backoff
// (§4.4 startup: an action server cannot begin ticking until it owns a
// zone), giving up only when ctx is done.
func (c *Client) RegisterWithRetry(ctx context.Context, serverID, address string, rpcPort, httpPort uint16) (grid.ActionServerInfo, error) {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	var info grid.ActionServerInfo
	op := func() error {
		var err error
		info, err = c.RegisterActionServer(ctx, serverID, address, rpcPort, httpPort)
		if err != nil {
			c.log.Warn("register action server failed, retrying", zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(op, bo); err != nil {
		return grid.ActionServerInfo{}, fmt.Errorf("directory client: register after retries: %w", err)
	}
	return info, nil
}

func (c *Client) RegisterActionServer(ctx context.Context, serverID, address string, rpcPort, httpPort uint16) (grid.ActionServerInfo, error) {
	args := rpc.NewEncoder().String(serverID).String(address).I32(int32(rpcPort)).I32(int32(httpPort)).Bytes()
	res, err := c.call(ctx, rpcapi.MethodRegisterActionServer, args)
	if err != nil {
		return grid.ActionServerInfo{}, err
	}
	return DecodeActionServerInfo(rpc.NewDecoder(res))
}

func (c *Client) UpdateHeartbeat(ctx context.Context, serverID string) error {
	args := rpc.NewEncoder().String(serverID).Bytes()
	_, err := c.call(ctx, rpcapi.MethodUpdateActionServerHeartbeat, args)
	return err
}

func (c *Client) GetActionServerForPosition(ctx context.Context, pos grid.Vec2) (grid.ActionServerInfo, bool, error) {
	args := rpc.NewEncoder().Vec2(pos).Bytes()
	res, err := c.call(ctx, rpcapi.MethodGetActionServerForPosition, args)
	if err != nil {
		return grid.ActionServerInfo{}, false, err
	}
	d := rpc.NewDecoder(res)
	ok, err := d.Bool()
	if err != nil {
		return grid.ActionServerInfo{}, false, err
	}
	info, err := DecodeActionServerInfo(d)
	if err != nil {
		return grid.ActionServerInfo{}, false, err
	}
	return info, ok, nil
}

func (c *Client) GetAllActionServers(ctx context.Context) ([]grid.ActionServerInfo, error) {
	res, err := c.call(ctx, rpcapi.MethodGetAllActionServers, nil)
	if err != nil {
		return nil, err
	}
	d := rpc.NewDecoder(res)
	n, err := d.I32()
	if err != nil {
		return nil, err
	}
	out := make([]grid.ActionServerInfo, 0, n)
	for i := int32(0); i < n; i++ {
		info, err := DecodeActionServerInfo(d)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *Client) RegisterPlayer(ctx context.Context, playerID, name string) (grid.PlayerInfo, error) {
	args := rpc.NewEncoder().String(playerID).String(name).Bytes()
	res, err := c.call(ctx, rpcapi.MethodRegisterPlayer, args)
	if err != nil {
		return grid.PlayerInfo{}, err
	}
	return DecodePlayerInfo(rpc.NewDecoder(res))
}

// TransferResult mirrors directory.TransferInfo for RPC clients outside the
// directory package.
type TransferResult struct {
	Transferred bool
	PlayerID    string
	Source      grid.ActionServerInfo
	Target      grid.ActionServerInfo
}

func (c *Client) InitiatePlayerTransfer(ctx context.Context, playerID string, pos grid.Vec2) (TransferResult, error) {
	args := rpc.NewEncoder().String(playerID).Vec2(pos).Bytes()
	res, err := c.call(ctx, rpcapi.MethodInitiatePlayerTransfer, args)
	if err != nil {
		return TransferResult{}, err
	}
	d := rpc.NewDecoder(res)
	transferred, err := d.Bool()
	if err != nil {
		return TransferResult{}, err
	}
	if !transferred {
		return TransferResult{}, nil
	}
	pid, err := d.String()
	if err != nil {
		return TransferResult{}, err
	}
	source, err := DecodeActionServerInfo(d)
	if err != nil {
		return TransferResult{}, err
	}
	target, err := DecodeActionServerInfo(d)
	if err != nil {
		return TransferResult{}, err
	}
	return TransferResult{Transferred: true, PlayerID: pid, Source: source, Target: target}, nil
}

func (c *Client) UpdatePlayerPositionAndVelocity(ctx context.Context, playerID string, pos, vel grid.Vec2) error {
	args := rpc.NewEncoder().String(playerID).Vec2(pos).Vec2(vel).Bytes()
	_, err := c.call(ctx, rpcapi.MethodUpdatePlayerPositionVelocity, args)
	return err
}

func (c *Client) BroadcastChatMessage(ctx context.Context, msg string) error {
	args := rpc.NewEncoder().String(msg).Bytes()
	_, err := c.call(ctx, rpcapi.MethodBroadcastChatMessage, args)
	return err
}
