package mqttc

// HandlerInterceptor wraps a MessageHandler. Interceptors run on the handler
// workers, around every handler invocation, including the default handler.
//
// Example (logging):
//
//	func logInbound(next mqttc.MessageHandler) mqttc.MessageHandler {
//	    return func(c *mqttc.Client, msg mqttc.Message) {
//	        slog.Info("message", "topic", msg.Topic, "qos", msg.QoS)
//	        next(c, msg)
//	    }
//	}
type HandlerInterceptor func(MessageHandler) MessageHandler

// PublishFunc matches the signature of Client.Publish.
type PublishFunc func(topic string, payload []byte, opts ...PublishOption) Token

// PublishInterceptor wraps a PublishFunc. Interceptors see every Publish
// and each topic of PublishMulti.
//
// Example (counting):
//
//	func countPublishes(next mqttc.PublishFunc) mqttc.PublishFunc {
//	    return func(topic string, payload []byte, opts ...mqttc.PublishOption) mqttc.Token {
//	        published.Add(1)
//	        return next(topic, payload, opts...)
//	    }
//	}
type PublishInterceptor func(PublishFunc) PublishFunc

// applyHandlerInterceptors wraps handler so that the first interceptor is
// the outermost.
func applyHandlerInterceptors(handler MessageHandler, interceptors []HandlerInterceptor) MessageHandler {
	for i := len(interceptors) - 1; i >= 0; i-- {
		handler = interceptors[i](handler)
	}
	return handler
}

func applyPublishInterceptors(publish PublishFunc, interceptors []PublishInterceptor) PublishFunc {
	for i := len(interceptors) - 1; i >= 0; i-- {
		publish = interceptors[i](publish)
	}
	return publish
}
