package ads

import "fmt"

// Error is an ADS result code as returned in a response's Result field
// or an AoE header's ErrorCode field. Zero means success; it passes
// through from the device unmodified and is never remapped.
type Error uint32

const (
	ErrNoError               Error = 0x0000
	ErrInternal              Error = 0x0001
	ErrNoRTime               Error = 0x0002
	ErrAllocLocked           Error = 0x0003
	ErrInsertMailbox         Error = 0x0004
	ErrWrongReceiveHMSG      Error = 0x0005
	ErrTargetPortNotFound    Error = 0x0006
	ErrTargetMachineNotFound Error = 0x0007
	ErrUnknownCmdID          Error = 0x0008
	ErrBadTaskID             Error = 0x0009
	ErrNoIO                  Error = 0x000A
	ErrUnknownAMSCmd         Error = 0x000B
	ErrWin32Error            Error = 0x000C
	ErrPortNotConnected      Error = 0x000D
	ErrInvalidAMSLength      Error = 0x000E
	ErrInvalidAMSNetID       Error = 0x000F
	ErrLowInstLevel          Error = 0x0010
	ErrNoDebugAvailable      Error = 0x0011
	ErrPortDisabled          Error = 0x0012
	ErrPortAlreadyConnected  Error = 0x0013
	ErrAMSSyncWin32Error     Error = 0x0014
	ErrAMSSyncTimeout        Error = 0x0015
	ErrAMSSyncAMSError       Error = 0x0016
	ErrAMSSyncNoIndexMap     Error = 0x0017
	ErrInvalidAMSPort        Error = 0x0018
	ErrNoMemory              Error = 0x0019
	ErrTCPSendError          Error = 0x001A
	ErrHostUnreachable       Error = 0x001B
	ErrInvalidAMSFragment    Error = 0x001C
	ErrRouterNoLocking       Error = 0x001D
	ErrRouterNoDatabase      Error = 0x001E
	ErrRouterOutOfMemory     Error = 0x001F

	ErrDeviceError                 Error = 0x0700
	ErrDeviceSrvNotSupp            Error = 0x0701
	ErrDeviceInvalidIndexGroup     Error = 0x0702
	ErrDeviceInvalidIndexOffset    Error = 0x0703
	ErrDeviceInvalidAccess         Error = 0x0704
	ErrDeviceInvalidSize           Error = 0x0705
	ErrDeviceInvalidData           Error = 0x0706
	ErrDeviceNotReady              Error = 0x0707
	ErrDeviceBusy                  Error = 0x0708
	ErrDeviceInvalidContext        Error = 0x0709
	ErrDeviceNoMemory              Error = 0x070A
	ErrDeviceInvalidParam          Error = 0x070B
	ErrDeviceNotFound              Error = 0x070C
	ErrDeviceSyntax                Error = 0x070D
	ErrDeviceIncompatible          Error = 0x070E
	ErrDeviceExists                Error = 0x070F
	ErrDeviceSymbolNotFound        Error = 0x0710
	ErrDeviceSymbolVersionInvalid  Error = 0x0711
	ErrDeviceInvalidState          Error = 0x0712
	ErrDeviceTransModeNotSupported Error = 0x0713
	ErrDeviceNotifyHandleInvalid   Error = 0x0714
	ErrDeviceClientUnknown         Error = 0x0715
	ErrDeviceNoMoreHandles         Error = 0x0716
	ErrDeviceInvalidWatchSize      Error = 0x0717
	ErrDeviceNotInit               Error = 0x0718
	ErrDeviceTimeout               Error = 0x0719
	ErrDeviceNoInterface           Error = 0x071A
	ErrDeviceInvalidInterface      Error = 0x071B
	ErrDeviceInvalidClsID          Error = 0x071C
	ErrDeviceInvalidObjID          Error = 0x071D
	ErrDeviceRequestPending        Error = 0x071E
	ErrDeviceAborted               Error = 0x071F

	ErrClientError          Error = 0x0740
	ErrClientInvalidParam   Error = 0x0741
	ErrClientListEmpty      Error = 0x0742
	ErrClientVarUsed        Error = 0x0743
	ErrClientDuplInvokeID   Error = 0x0744
	ErrClientSyncTimeout    Error = 0x0745
	ErrClientW32Error       Error = 0x0746
	ErrClientTimeoutInvalid Error = 0x0747
	ErrClientPortNotOpen    Error = 0x0748
	ErrClientNoAmsAddr      Error = 0x0749
	ErrClientSyncInternal   Error = 0x0750
	ErrClientAddHash        Error = 0x0751
	ErrClientRemoveHash     Error = 0x0752
	ErrClientNoMoreSym      Error = 0x0753
	ErrClientSyncResInvalid Error = 0x0754
	ErrClientSyncPortLocked Error = 0x0755
)

func (e Error) Error() string {
	switch e {
	case ErrNoError:
		return "no error"
	case ErrInternal:
		return "internal error"
	case ErrNoRTime:
		return "no real-time"
	case ErrAllocLocked:
		return "allocation locked, memory cannot be released"
	case ErrInsertMailbox:
		return "mailbox full, message could not be sent"
	case ErrWrongReceiveHMSG:
		return "wrong receive HMSG"
	case ErrTargetPortNotFound:
		return "target port not found"
	case ErrTargetMachineNotFound:
		return "target machine not found"
	case ErrUnknownCmdID:
		return "unknown command ID"
	case ErrBadTaskID:
		return "invalid task ID"
	case ErrNoIO:
		return "no IO"
	case ErrUnknownAMSCmd:
		return "unknown AMS command"
	case ErrWin32Error:
		return "win32 error"
	case ErrPortNotConnected:
		return "port not connected"
	case ErrInvalidAMSLength:
		return "invalid AMS length"
	case ErrInvalidAMSNetID:
		return "invalid AMS net ID"
	case ErrLowInstLevel:
		return "installation level too low"
	case ErrNoDebugAvailable:
		return "no debugging available"
	case ErrPortDisabled:
		return "port disabled"
	case ErrPortAlreadyConnected:
		return "port already connected"
	case ErrAMSSyncWin32Error:
		return "AMS sync win32 error"
	case ErrAMSSyncTimeout:
		return "AMS sync timeout"
	case ErrAMSSyncAMSError:
		return "AMS sync error"
	case ErrAMSSyncNoIndexMap:
		return "AMS sync no index map"
	case ErrInvalidAMSPort:
		return "invalid AMS port"
	case ErrNoMemory:
		return "no memory"
	case ErrTCPSendError:
		return "TCP send error"
	case ErrHostUnreachable:
		return "host unreachable"
	case ErrInvalidAMSFragment:
		return "invalid AMS fragment"
	case ErrRouterNoLocking:
		return "router: no locking available"
	case ErrRouterNoDatabase:
		return "router: no database"
	case ErrRouterOutOfMemory:
		return "router: out of memory"
	case ErrDeviceError:
		return "device error"
	case ErrDeviceSrvNotSupp:
		return "service not supported by device"
	case ErrDeviceInvalidIndexGroup:
		return "invalid index group"
	case ErrDeviceInvalidIndexOffset:
		return "invalid index offset"
	case ErrDeviceInvalidAccess:
		return "invalid access"
	case ErrDeviceInvalidSize:
		return "invalid size"
	case ErrDeviceInvalidData:
		return "invalid data"
	case ErrDeviceNotReady:
		return "device not ready"
	case ErrDeviceBusy:
		return "device busy"
	case ErrDeviceInvalidContext:
		return "invalid context"
	case ErrDeviceNoMemory:
		return "device out of memory"
	case ErrDeviceInvalidParam:
		return "invalid parameter"
	case ErrDeviceNotFound:
		return "not found"
	case ErrDeviceSyntax:
		return "syntax error in command or file"
	case ErrDeviceIncompatible:
		return "object incompatible"
	case ErrDeviceExists:
		return "object already exists"
	case ErrDeviceSymbolNotFound:
		return "symbol not found"
	case ErrDeviceSymbolVersionInvalid:
		return "symbol version invalid, reload required"
	case ErrDeviceInvalidState:
		return "device in invalid state for this command"
	case ErrDeviceTransModeNotSupported:
		return "transmission mode not supported"
	case ErrDeviceNotifyHandleInvalid:
		return "notification handle invalid"
	case ErrDeviceClientUnknown:
		return "notification client unknown"
	case ErrDeviceNoMoreHandles:
		return "no more notification handles"
	case ErrDeviceInvalidWatchSize:
		return "notification size too large"
	case ErrDeviceNotInit:
		return "device not initialized"
	case ErrDeviceTimeout:
		return "device timeout"
	case ErrDeviceNoInterface:
		return "query interface failed"
	case ErrDeviceInvalidInterface:
		return "wrong interface requested"
	case ErrDeviceInvalidClsID:
		return "class ID invalid"
	case ErrDeviceInvalidObjID:
		return "object ID invalid"
	case ErrDeviceRequestPending:
		return "request pending"
	case ErrDeviceAborted:
		return "request aborted"
	case ErrClientError:
		return "client error"
	case ErrClientInvalidParam:
		return "invalid parameter at client"
	case ErrClientListEmpty:
		return "polling list is empty"
	case ErrClientVarUsed:
		return "var connection already in use"
	case ErrClientDuplInvokeID:
		return "duplicate invoke ID"
	case ErrClientSyncTimeout:
		return "timeout elapsed waiting for response"
	case ErrClientW32Error:
		return "win32 error in client"
	case ErrClientTimeoutInvalid:
		return "invalid timeout value"
	case ErrClientPortNotOpen:
		return "local port not open"
	case ErrClientNoAmsAddr:
		return "no AMS address"
	case ErrClientSyncInternal:
		return "internal error in sync"
	case ErrClientAddHash:
		return "hash table overflow"
	case ErrClientRemoveHash:
		return "key not found in hash table"
	case ErrClientNoMoreSym:
		return "no more symbols in cache"
	case ErrClientSyncResInvalid:
		return "invalid response received"
	case ErrClientSyncPortLocked:
		return "sync port is locked"
	default:
		return fmt.Sprintf("ADS error 0x%04X", uint32(e))
	}
}

// IsError reports whether e represents a failure (non-zero result code).
func (e Error) IsError() bool {
	return e != ErrNoError
}
