package room

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"podium/cmd/internal/channel"
	"podium/cmd/internal/turn"
	v1 "podium/shared/contracts/debate/v1"

	"github.com/google/uuid"
)

const (
	defaultTickEvery  = time.Second
	defaultBannerFor  = 3 * time.Second
	defaultEventQueue = 64
	inboxSize         = 64
)

// RoundPolicy decides the round after each accepted message.
type RoundPolicy = turn.RoundPolicy

// ManualRounds is the default policy: rounds only move with debate metadata.
type ManualRounds = turn.ManualRounds

// Channel is the subset of *channel.Handle a room drives.
type Channel interface {
	JoinRoom(roomID string) error
	Send(roomID string, m v1.Message) error
	OnMessage(fn func(v1.Message))
	OnStatus(fn func(channel.StatusEvent))
	OnDebate(fn func(v1.Debate))
	Close()
}

// Dialer opens the room's channel. It is called once per Open; ctx spans the room's lifetime.
type Dialer func(ctx context.Context, log *slog.Logger) (Channel, error)

// ChannelDialer connects a relay channel with cfg.
func ChannelDialer(cfg channel.Config, opts ...channel.Option) Dialer {
	return func(ctx context.Context, log *slog.Logger) (Channel, error) {
		h, err := channel.Connect(ctx, cfg, log, opts...)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// FactChecker labels a freshly composed message.
type FactChecker func() v1.FactCheckStatus

var checkedStatuses = []v1.FactCheckStatus{v1.FactVerified, v1.FactQuestionable, v1.FactUnverified}

// RandomFactChecker picks uniformly among verified, questionable and unverified.
func RandomFactChecker() FactChecker {
	return func() v1.FactCheckStatus {
		return checkedStatuses[rand.IntN(len(checkedStatuses))]
	}
}

// FixedFactChecker always returns s.
func FixedFactChecker(s v1.FactCheckStatus) FactChecker {
	return func() v1.FactCheckStatus { return s }
}

type Option func(*Room)

func WithRoundPolicy(p RoundPolicy) Option {
	return func(r *Room) {
		if p != nil {
			r.rounds = p
		}
	}
}

// RoundPolicyOption maps a policy name to an Option: "manual" (or empty) keeps rounds on
// debate metadata, "alternation" advances after both seats speak. The alternation policy
// is stateful, so every room opened with the option gets its own.
func RoundPolicyOption(name string) (Option, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "manual":
		return WithRoundPolicy(ManualRounds{}), nil
	case "alternation":
		return func(r *Room) { r.rounds = turn.NewAlternationRounds() }, nil
	default:
		return nil, fmt.Errorf("room: unknown round policy %q", name)
	}
}

func WithFactChecker(fc FactChecker) Option {
	return func(r *Room) {
		if fc != nil {
			r.factCheck = fc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Room) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTicks drives the countdown from ticks instead of a wall-clock ticker.
func WithTicks(ticks <-chan time.Time) Option {
	return func(r *Room) { r.ticks = ticks }
}

func WithBannerDuration(d time.Duration) Option {
	return func(r *Room) {
		if d > 0 {
			r.bannerFor = d
		}
	}
}

// messageIDs mints "<unix-ms>-<uuid>" ids. The millisecond prefix keeps them readable
// in logs; the uuid keeps two clients sending in the same millisecond apart.
type messageIDs struct{}

func (messageIDs) next(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
}
