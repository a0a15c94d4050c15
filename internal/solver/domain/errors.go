package domain

import "errors"

var (
	// ErrExpiredAuthorization 意图或授权已过期
	ErrExpiredAuthorization = errors.New("authorization expired")
	// ErrInvalidAuthorization 签名、spender 或金额与授权不匹配
	ErrInvalidAuthorization = errors.New("invalid authorization")
	// ErrInsufficientSwapOutput 路由返回的兑换数量不足以兑付全部参与者
	ErrInsufficientSwapOutput = errors.New("insufficient swap output")
	// ErrUnauthorized 非 operator 调用受限操作
	ErrUnauthorized = errors.New("unauthorized caller")
	// ErrInvalidIntent 意图字段非法
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrUnknownVenue 批次指定的交易场所未注册
	ErrUnknownVenue = errors.New("unknown venue")
	// ErrConservationViolated 批次结算后托管余额变化与手续费不一致
	ErrConservationViolated = errors.New("token conservation violated")
	// ErrInsufficientBalance 账本余额不足
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrTriggerBusy 其他实例正在执行结算
	ErrTriggerBusy = errors.New("trigger already in flight")
)
