package session

import (
	"log/slog"

	"github.com/hitoshi/mealdash/internal/model"
)

// 遷移先のルート
const (
	RouteEntry           = "/welcome"
	RouteMainTabs        = "/(tabs)"
	RouteVendorDashboard = "/vendor/dashboard"
)

// RouteForRole はサインイン後の遷移先を返す。
func RouteForRole(role model.Role) string {
	if role == model.RoleVendor {
		return RouteVendorDashboard
	}
	return RouteMainTabs
}

// Navigator は画面遷移を行う。
// イベント処理のゴルーチンから呼ばれるため、ブロックしてはならない。
type Navigator interface {
	Navigate(route string)
}

// Notifier はユーザーへの通知を行う。
// ブロックしてはならない。
type Notifier interface {
	Notify(message string)
}

// NavigatorFunc は関数をNavigatorとして扱うアダプター。
type NavigatorFunc func(route string)

// Navigate はf(route)を呼ぶ。
func (f NavigatorFunc) Navigate(route string) { f(route) }

// NotifierFunc は関数をNotifierとして扱うアダプター。
type NotifierFunc func(message string)

// Notify はf(message)を呼ぶ。
func (f NotifierFunc) Notify(message string) { f(message) }

// logNavigator は遷移先をログに出力するだけのNavigator。
type logNavigator struct{ logger *slog.Logger }

func (n logNavigator) Navigate(route string) {
	n.logger.Info("navigate", slog.String("route", route))
}

// logNotifier は通知をログに出力するだけのNotifier。
type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) Notify(message string) {
	n.logger.Warn("notification", slog.String("message", message))
}
