package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// GenerateClientOrderID 生成确定性幂等键。
// 以 trader + signal + 分钟级时间桶哈希,同一分钟内重复执行得到同一个键,
// 交易所与决策日志的唯一约束由此吸收重复下单。
func GenerateClientOrderID(traderID, signalID string, ts time.Time) string {
	bucket := ts.UTC().Format("200601021504")
	sum := sha256.Sum256([]byte(traderID + ":" + signalID + ":" + bucket))
	return "T" + hex.EncodeToString(sum[:])[:16]
}
