package session

// State описывает состояние конечного автомата сессии.
type State int

const (
	Idle State = iota
	Initializing
	AwaitingScan
	Authenticating
	Connected
	Closing
	Terminated
)

var stateNames = [...]string{
	Idle:           "idle",
	Initializing:   "initializing",
	AwaitingScan:   "awaiting_scan",
	Authenticating: "authenticating",
	Connected:      "connected",
	Closing:        "closing",
	Terminated:     "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal сообщает, что из состояния нельзя вернуться в Connected без нового connect.
func (s State) Terminal() bool { return s == Terminated }

// EventKind перечисляет события автомата. Набор закрыт.
type EventKind int

const (
	EventConnect EventKind = iota
	// транспорт выдал новый QR-токен
	EventQR
	// учётные данные приняты, канал ещё не открыт
	EventAuthenticated
	EventOpen
	EventClose
	EventRetry
	EventTerminate
	EventDisconnect
)

var eventNames = [...]string{
	EventConnect:       "connect",
	EventQR:            "qr",
	EventAuthenticated: "authenticated",
	EventOpen:          "open",
	EventClose:         "close",
	EventRetry:         "retry",
	EventTerminate:     "terminate",
	EventDisconnect:    "disconnect",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[k]
}

// CloseReason объясняет, почему закрылся транспорт.
type CloseReason string

const (
	// сессия отозвана; единственная терминальная причина
	ReasonLoggedOut      CloseReason = "logged_out"
	ReasonConnectionLost CloseReason = "connection_lost"
	ReasonStartFailed    CloseReason = "start_failed"
)

// Event поступает в автомат. QR и Phone заполнены только для своих типов.
type Event struct {
	Kind   EventKind
	QR     string
	Phone  string
	Reason CloseReason
}

// Transition задаёт все переходы state × event.
// ok=false означает, что событие в этом состоянии игнорируется.
func Transition(from State, kind EventKind) (State, bool) {
	switch kind {
	case EventConnect:
		if from == Idle {
			return Initializing, true
		}
	case EventQR:
		if from == Initializing || from == AwaitingScan {
			return AwaitingScan, true
		}
	case EventAuthenticated:
		if from == Initializing || from == AwaitingScan {
			return Authenticating, true
		}
	case EventOpen:
		if from == Initializing || from == Authenticating {
			return Connected, true
		}
	case EventClose:
		// Closing уже идёт: повторное закрытие ничего не меняет.
		if from != Closing && !from.Terminal() {
			return Closing, true
		}
	case EventRetry:
		if from == Closing {
			return Initializing, true
		}
	case EventTerminate:
		if from == Closing {
			return Terminated, true
		}
	case EventDisconnect:
		if !from.Terminal() {
			return Closing, true
		}
	}
	return from, false
}
