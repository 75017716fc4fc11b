// Package rpcapi centralizes the interface/method id numbering every grain
// manifest and dispatcher shares (§4.2). Because the isolated codec keeps no
// persistent cross-process registry, both sides of a session must agree on
// these numbers independently — this package is that agreement, compiled
// into every binary rather than negotiated at runtime.
package rpcapi

import "github.com/zonecore/zonecore/internal/rpc"

// Interface ids.
const (
	IfaceSession      int32 = 1
	IfaceDirectory    int32 = 2
	IfaceActionServer int32 = 3
	IfacePresence     int32 = 4
)

// Session interface methods (§4.7 CreateSession).
const (
	MethodCreateSession int32 = 1
)

// Directory interface methods (§4.3).
const (
	MethodRegisterActionServer          int32 = 1
	MethodUnregisterActionServer        int32 = 2
	MethodGetAllActionServers           int32 = 3
	MethodGetActionServerForPosition    int32 = 4
	MethodRegisterPlayer                int32 = 5
	MethodInitiatePlayerTransfer        int32 = 6
	MethodUpdatePlayerPositionVelocity  int32 = 7
	MethodBroadcastChatMessage          int32 = 8
	MethodUpdateActionServerHeartbeat   int32 = 9
	MethodStreamZoneStatistics          int32 = 10
)

// ActionServer interface methods (§4.4).
const (
	MethodConnectPlayer               int32 = 1
	MethodDisconnectPlayer            int32 = 2
	MethodUpdatePlayerInput            int32 = 3
	MethodUpdatePlayerInputEx          int32 = 4
	MethodGetWorldState                int32 = 5
	MethodTransferEntityIn             int32 = 6
	MethodTransferBulletTrajectory     int32 = 7
	MethodNotifyBulletDestroyed        int32 = 8
	MethodReceiveScoutAlert            int32 = 9
	MethodGetLocalWorldState           int32 = 10
	MethodGetZoneStats                 int32 = 11
	MethodGetServerFps                 int32 = 12
	MethodSubscribe                    int32 = 13
	MethodUnsubscribe                  int32 = 14
	MethodStreamWorldStateUpdates      int32 = 15
	MethodStreamZoneStatisticsAS       int32 = 16
	MethodStreamAdjacentZoneEntities   int32 = 17
)

// Presence interface methods (§4.8).
const (
	MethodRegisterCoordinator int32 = 1
	MethodListCoordinators    int32 = 2
)

func iface(id int32, name string, methods map[int32]string) rpc.InterfaceDescriptor {
	descs := make([]rpc.MethodDescriptor, 0, len(methods))
	for mid, mname := range methods {
		descs = append(descs, rpc.MethodDescriptor{MethodID: mid, Name: mname})
	}
	return rpc.InterfaceDescriptor{InterfaceID: id, Name: name, Methods: descs}
}

// SessionManifest describes the anonymous session-creation interface every
// process exposes before a caller has a Session role (§4.7).
func SessionManifest() rpc.InterfaceDescriptor {
	return iface(IfaceSession, "Session", map[int32]string{
		MethodCreateSession: "CreateSession",
	})
}

// DirectoryManifest describes the Silo's grain (§4.3).
func DirectoryManifest() rpc.InterfaceDescriptor {
	return iface(IfaceDirectory, "Directory", map[int32]string{
		MethodRegisterActionServer:         "RegisterActionServer",
		MethodUnregisterActionServer:       "UnregisterActionServer",
		MethodGetAllActionServers:          "GetAllActionServers",
		MethodGetActionServerForPosition:   "GetActionServerForPosition",
		MethodRegisterPlayer:               "RegisterPlayer",
		MethodInitiatePlayerTransfer:       "InitiatePlayerTransfer",
		MethodUpdatePlayerPositionVelocity: "UpdatePlayerPositionAndVelocity",
		MethodBroadcastChatMessage:         "BroadcastChatMessage",
		MethodUpdateActionServerHeartbeat:  "UpdateActionServerHeartbeat",
		MethodStreamZoneStatistics:         "StreamZoneStatistics",
	})
}

// ActionServerManifest describes one zone's player-facing and server-facing
// grain (§4.4, §4.6).
func ActionServerManifest() rpc.InterfaceDescriptor {
	return iface(IfaceActionServer, "ActionServer", map[int32]string{
		MethodConnectPlayer:             "ConnectPlayer",
		MethodDisconnectPlayer:          "DisconnectPlayer",
		MethodUpdatePlayerInput:         "UpdatePlayerInput",
		MethodUpdatePlayerInputEx:       "UpdatePlayerInputEx",
		MethodGetWorldState:             "GetWorldState",
		MethodTransferEntityIn:          "TransferEntityIn",
		MethodTransferBulletTrajectory:  "TransferBulletTrajectory",
		MethodNotifyBulletDestroyed:     "NotifyBulletDestroyed",
		MethodReceiveScoutAlert:         "ReceiveScoutAlert",
		MethodGetLocalWorldState:        "GetLocalWorldState",
		MethodGetZoneStats:              "GetZoneStats",
		MethodGetServerFps:              "GetServerFps",
		MethodSubscribe:                 "Subscribe",
		MethodUnsubscribe:               "Unsubscribe",
		MethodStreamWorldStateUpdates:   "StreamWorldStateUpdates",
		MethodStreamZoneStatisticsAS:    "StreamZoneStatistics",
		MethodStreamAdjacentZoneEntities: "StreamAdjacentZoneEntities",
	})
}

// PresenceManifest describes the coordinator directory (§4.8).
func PresenceManifest() rpc.InterfaceDescriptor {
	return iface(IfacePresence, "Presence", map[int32]string{
		MethodRegisterCoordinator: "RegisterCoordinator",
		MethodListCoordinators:    "ListCoordinators",
	})
}

var allManifests = []rpc.InterfaceDescriptor{
	SessionManifest(), DirectoryManifest(), ActionServerManifest(), PresenceManifest(),
}

// MethodName resolves (interfaceId, methodId) back to the "Interface.Method"
// form auth.PolicyTable's config keys use, so the authorization gate can
// look up a policy from the wire-level ids a Request actually carries.
func MethodName(interfaceID, methodID int32) (key string, ok bool) {
	for _, d := range allManifests {
		if d.InterfaceID != interfaceID {
			continue
		}
		for _, m := range d.Methods {
			if m.MethodID == methodID {
				return d.Name + "." + m.Name, true
			}
		}
	}
	return "", false
}
