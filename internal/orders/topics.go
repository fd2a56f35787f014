package orders

const (
	TopicStatusChanged = "order.status.changed"
	TopicStockAdjusted = "order.stock.adjusted"
)

// Partition key = order_id so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
