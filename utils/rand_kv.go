package utils

import (
	"fmt"
	"math/rand"
	"time"
)

var (
	randValue = rand.New(rand.NewSource(time.Now().UnixNano()))
	letters   = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
)

// GetTestKey 生成测试使用的 key
func GetTestKey(i int) []byte {
	return []byte(fmt.Sprintf("halodb-key-%09d", i))
}

// RandomValue 生成随机 value, 用于测试, 内容为固定前缀 "halodb-value-" 加 n 个随机字母
func RandomValue(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[randValue.Intn(len(letters))]
	}
	return []byte("halodb-value-" + string(b))
}
