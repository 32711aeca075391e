package models

// Роли пользователей
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// Виды сообщений
const (
	MessageKindUser   = "user"
	MessageKindSystem = "system"
)

// События escrow, которые рассылаются участникам сделки.
const (
	EventFundingInitiated = "escrow.funding_initiated"
	EventFunded           = "escrow.funded"
	EventFundingFailed    = "escrow.funding_failed"
	EventReleased         = "escrow.released"
	EventRefunded         = "escrow.refunded"
	EventMessageNew       = "message.new"
	EventSellerOnboarded  = "seller.onboarded"
)

// ValidRoles список ролей, доступных при регистрации
var ValidRoles = map[string]struct{}{
	RoleBuyer:  {},
	RoleSeller: {},
}
