package actionserver

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zonecore/zonecore/internal/grid"
	"github.com/zonecore/zonecore/internal/rpc"
	"github.com/zonecore/zonecore/internal/rpcapi"
)

// Client is the player-facing side of one zone connection: a thin wrapper
// over an rpc.Session that a game client (or a neighboring zone, for the
// server-only methods) uses to call into this ActionServer's grain.
type Client struct {
	session *rpc.Session
	log     *zap.Logger
}

func NewClient(session *rpc.Session, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{session: session, log: log.Named("actionserver.client")}
}

func (c *Client) call(ctx context.Context, methodID int32, args []byte) ([]byte, error) {
	return c.session.Call(ctx, rpcapi.IfaceActionServer, methodID, args)
}

func (c *Client) ConnectPlayer(ctx context.Context, playerID, name string, pos grid.Vec2) error {
	args := rpc.NewEncoder().String(playerID).String(name).Vec2(pos).Bytes()
	_, err := c.call(ctx, rpcapi.MethodConnectPlayer, args)
	return err
}

func (c *Client) DisconnectPlayer(ctx context.Context, playerID string) error {
	args := rpc.NewEncoder().String(playerID).Bytes()
	_, err := c.call(ctx, rpcapi.MethodDisconnectPlayer, args)
	return err
}

func (c *Client) UpdatePlayerInput(ctx context.Context, playerID string, move grid.Vec2, isShooting bool) error {
	args := rpc.NewEncoder().String(playerID).Vec2(move).Bool(isShooting).Bytes()
	_, err := c.call(ctx, rpcapi.MethodUpdatePlayerInput, args)
	return err
}

func (c *Client) UpdatePlayerInputEx(ctx context.Context, playerID string, move, aim grid.Vec2, firing bool) error {
	args := rpc.NewEncoder().String(playerID).Vec2(move).Vec2(aim).Bool(firing).Bytes()
	_, err := c.call(ctx, rpcapi.MethodUpdatePlayerInputEx, args)
	return err
}

func (c *Client) GetWorldState(ctx context.Context) (grid.WorldState, error) {
	res, err := c.call(ctx, rpcapi.MethodGetWorldState, nil)
	if err != nil {
		return grid.WorldState{}, err
	}
	return decodeWorldState(res)
}

// Subscribe asks the zone's grain to start pushing ObserverNotify frames for
// topic, and wires onUpdate to receive them. Only one handler is active per
// Client at a time (the underlying Session keeps a single onNotify slot), so
// callers that subscribe to more than one topic should dispatch on
// n.MethodID themselves.
func (c *Client) Subscribe(ctx context.Context, topic Topic, onUpdate rpc.ObserverHandler) (uuid.UUID, error) {
	args := rpc.NewEncoder().I32(int32(topic)).Bytes()
	res, err := c.call(ctx, rpcapi.MethodSubscribe, args)
	if err != nil {
		return uuid.UUID{}, err
	}
	d := rpc.NewDecoder(res)
	subID, err := d.GUID()
	if err != nil {
		return uuid.UUID{}, err
	}
	c.session.Subscribe(rpc.Subscription{ID: subID, InterfaceID: rpcapi.IfaceActionServer, MethodID: streamMethodFor(topic)}, onUpdate)
	return subID, nil
}

func (c *Client) Unsubscribe(ctx context.Context, subID uuid.UUID) error {
	c.session.Unsubscribe(subID)
	args := rpc.NewEncoder().GUID(subID).Bytes()
	_, err := c.call(ctx, rpcapi.MethodUnsubscribe, args)
	return err
}

func decodeWorldState(data []byte) (grid.WorldState, error) {
	d := rpc.NewDecoder(data)
	n, err := d.I32()
	if err != nil {
		return grid.WorldState{}, err
	}
	ws := grid.WorldState{Entities: make([]grid.Entity, 0, n)}
	for i := int32(0); i < n; i++ {
		e, err := decodeEntity(d)
		if err != nil {
			return grid.WorldState{}, err
		}
		ws.Entities = append(ws.Entities, e)
	}
	return ws, nil
}
