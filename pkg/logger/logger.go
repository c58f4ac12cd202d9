package logger

import (
	"go.uber.org/zap"
)

var base = zap.NewNop()

// Init 初始化全局日志（production 输出 JSON，其余环境输出开发格式）
func Init(env string) error {
	var (
		l   *zap.Logger
		err error
	)
	if env == "production" {
		l, err = zap.NewProduction()
	} else {
		l, err = zap.NewDevelopment()
	}
	if err != nil {
		return err
	}
	base = l
	return nil
}

// L 返回底层 *zap.Logger
func L() *zap.Logger { return base }

func Debug(msg string, fields ...zap.Field) { base.Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { base.Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { base.Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { base.Error(msg, fields...) }

func Sync() { _ = base.Sync() }
