package types

// token generation query
type InputTokenRequest struct {
	ID string `form:"id" validate:"required,max=200,word"`
}

// manual revoke query
type InputRevokeSession struct {
	SessionID string `form:"sessionid" validate:"required,max=200,word"`
}

// asset policy update query (1 enables, 0 disables)
type InputAssetPolicyUpdate struct {
	IP      *int `form:"ip" validate:"omitempty,oneof=0 1"`
	UA      *int `form:"ua" validate:"omitempty,oneof=0 1"`
	Referer *int `form:"referer" validate:"omitempty,oneof=0 1"`
}
