package bleu

// MapService projects a TypeDescriptor onto a ServiceDescriptor (§4.4
// "Service Mapper"). It is a pure function: no runtime reflection, no
// dependency on map iteration order — Methods is walked in the caller's
// order and MethodDescriptors come back in that same order.
func MapService(td TypeDescriptor) ServiceDescriptor {
	serviceUUID := DeriveServiceUUID(td.FQName)
	methods := make([]MethodDescriptor, len(td.Methods))
	for i, m := range td.Methods {
		methods[i] = MethodDescriptor{
			Name:      m.Name,
			CharUUID:  DeriveCharUUID(serviceUUID, td.FQName, m.Name),
			Direction: m.Direction,
		}
	}
	return ServiceDescriptor{ServiceUUID: serviceUUID, Methods: methods}
}
